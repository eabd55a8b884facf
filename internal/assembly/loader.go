package assembly

// Tolerant XML parsing of the device configuration document. Element and
// attribute names are matched case-insensitively with several accepted
// synonyms; unknown elements are ignored.

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"

	cerr "github.com/tturner/cipsession/internal/errors"
)

type xmlNode struct {
	XMLName xml.Name
	Attrs   []xml.Attr `xml:",any,attr"`
	Text    string     `xml:",chardata"`
	Nodes   []xmlNode  `xml:",any"`
}

// normalizeKey lowercases and strips non-alphanumerics so "class_id",
// "ClassId", and "classid" all compare equal.
func normalizeKey(value string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(value) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func (n *xmlNode) attr(candidates ...string) (string, bool) {
	for _, cand := range candidates {
		target := normalizeKey(cand)
		for _, a := range n.Attrs {
			if normalizeKey(a.Name.Local) == target && strings.TrimSpace(a.Value) != "" {
				return strings.TrimSpace(a.Value), true
			}
		}
	}
	return "", false
}

func (n *xmlNode) child(names ...string) *xmlNode {
	targets := make(map[string]bool, len(names))
	for _, name := range names {
		targets[normalizeKey(name)] = true
	}
	for i := range n.Nodes {
		if targets[normalizeKey(n.Nodes[i].XMLName.Local)] {
			return &n.Nodes[i]
		}
	}
	return nil
}

func (n *xmlNode) text() string {
	return strings.TrimSpace(n.Text)
}

// iter visits every node in the subtree, root included.
func (n *xmlNode) iter(visit func(*xmlNode)) {
	visit(n)
	for i := range n.Nodes {
		n.Nodes[i].iter(visit)
	}
}

var scalarTypeSizes = map[string]int{
	"bool": 1, "boolean": 1, "byte": 1, "sint": 1, "usint": 1,
	"int": 2, "uint": 2, "word": 2,
	"dint": 4, "udint": 4, "dword": 4, "real": 4,
	"lint": 8, "ulint": 8, "lword": 8, "lreal": 8,
	// Variable-length string types carry no default size.
	"shortstring": -1, "string": -1,
}

func parseInt(value string) (int, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(value), 0, 32)
	if err != nil {
		return 0, err
	}
	return int(v), nil
}

// ParseConfiguration parses the device configuration document. Root element
// is matched case-insensitively against Device, DeviceConfiguration, Plc,
// and Cip; assembly elements may appear anywhere under the root. A non-nil
// warn callback receives diagnostics that do not reject the document
// (member offset overlap in particular).
func ParseConfiguration(payload []byte, warn func(format string, v ...interface{})) (*DeviceConfiguration, error) {
	if warn == nil {
		warn = func(string, ...interface{}) {}
	}

	var root xmlNode
	if err := xml.Unmarshal(payload, &root); err != nil {
		return nil, cerr.Wrap(cerr.KindConfigInvalid, "malformed XML payload", err)
	}

	switch normalizeKey(root.XMLName.Local) {
	case "device", "deviceconfiguration", "plc", "cip":
	default:
		return nil, cerr.New(cerr.KindConfigInvalid,
			fmt.Sprintf("root element must be <Device>, <DeviceConfiguration>, <Plc>, or <Cip>, got <%s>", root.XMLName.Local))
	}

	cfg := &DeviceConfiguration{Identity: parseIdentity(root.child("Identity"))}

	var assemblyNodes []*xmlNode
	root.iter(func(n *xmlNode) {
		if normalizeKey(n.XMLName.Local) == "assembly" {
			assemblyNodes = append(assemblyNodes, n)
		}
	})

	seen := make(map[string]bool)
	for _, node := range assemblyNodes {
		asm, err := parseAssembly(node)
		if err != nil {
			return nil, err
		}
		if seen[asm.Alias] {
			return nil, cerr.New(cerr.KindConfigInvalid, fmt.Sprintf("duplicate assembly alias %q", asm.Alias))
		}
		seen[asm.Alias] = true

		if err := validateLayout(asm, warn); err != nil {
			return nil, err
		}
		cfg.Assemblies = append(cfg.Assemblies, asm)
	}

	return cfg, nil
}

func parseIdentity(node *xmlNode) DeviceIdentity {
	if node == nil {
		return DeviceIdentity{}
	}
	var id DeviceIdentity

	if v, ok := node.attr("name", "product_name"); ok {
		id.Name = v
	} else if c := node.child("Name", "ProductName"); c != nil {
		id.Name = c.text()
	}
	if v, ok := node.attr("vendor", "vendor_id", "vendor_name"); ok {
		id.Vendor = v
	} else if c := node.child("Vendor", "VendorName"); c != nil {
		id.Vendor = c.text()
	}
	if v, ok := node.attr("product", "product_code"); ok {
		id.ProductCode = v
	} else if c := node.child("Product", "ProductCode"); c != nil {
		id.ProductCode = c.text()
	}
	if v, ok := node.attr("revision"); ok {
		id.Revision = v
	} else if major, okM := node.attr("revision_major"); okM {
		if minor, okN := node.attr("revision_minor"); okN {
			id.Revision = major + "." + minor
		}
	} else if c := node.child("Revision", "RevisionMajor", "RevisionMinor"); c != nil {
		id.Revision = c.text()
	}
	if v, ok := node.attr("serial", "serial_number"); ok {
		id.SerialNumber = v
	} else if c := node.child("SerialNumber", "Serial", "SerialNo"); c != nil {
		id.SerialNumber = c.text()
	}
	return id
}

func parseAssembly(node *xmlNode) (Assembly, error) {
	alias, ok := node.attr("alias", "id", "name")
	if !ok {
		if c := node.child("Name"); c != nil {
			alias = c.text()
		}
	}
	if alias == "" {
		return Assembly{}, cerr.New(cerr.KindConfigInvalid,
			fmt.Sprintf("element <%s> is missing required attribute 'alias'", node.XMLName.Local))
	}

	asm := Assembly{Alias: alias, ClassID: 0x04, Size: -1}

	if v, ok := node.attr("class_id", "classid", "class"); ok {
		class, err := parseInt(v)
		if err != nil {
			return Assembly{}, cerr.Wrap(cerr.KindConfigInvalid, fmt.Sprintf("assembly %q class id", alias), err)
		}
		asm.ClassID = uint16(class)
	}

	instStr, ok := node.attr("instance_id", "instanceid", "instance")
	if !ok {
		return Assembly{}, cerr.New(cerr.KindConfigInvalid,
			fmt.Sprintf("assembly %q is missing required instance identifier", alias))
	}
	inst, err := parseInt(instStr)
	if err != nil {
		return Assembly{}, cerr.Wrap(cerr.KindConfigInvalid, fmt.Sprintf("assembly %q instance id", alias), err)
	}
	asm.InstanceID = uint16(inst)

	dirRaw, ok := node.attr("direction", "dir")
	if !ok {
		return Assembly{}, cerr.New(cerr.KindConfigInvalid,
			fmt.Sprintf("assembly %q is missing required direction", alias))
	}
	dir := NormalizeDirection(strings.ToLower(strings.TrimSpace(dirRaw)))
	if dir == "" {
		return Assembly{}, cerr.New(cerr.KindConfigInvalid,
			fmt.Sprintf("assembly %q has unsupported direction %q", alias, dirRaw))
	}
	asm.Direction = dir

	if v, ok := node.attr("size", "length", "bytelength"); ok {
		size, err := parseInt(v)
		if err != nil {
			return Assembly{}, cerr.Wrap(cerr.KindConfigInvalid, fmt.Sprintf("assembly %q size", alias), err)
		}
		asm.Size = size
	}

	members, err := parseMembers(node, alias)
	if err != nil {
		return Assembly{}, err
	}
	asm.Members = members
	return asm, nil
}

func parseMembers(node *xmlNode, alias string) ([]Member, error) {
	explicit := collectMemberNodes(node)
	if len(explicit) > 0 {
		return parseMemberElements(explicit, alias)
	}
	return parseScalarMembers(node), nil
}

func collectMemberNodes(node *xmlNode) []*xmlNode {
	var collected []*xmlNode
	for i := range node.Nodes {
		child := &node.Nodes[i]
		switch normalizeKey(child.XMLName.Local) {
		case "member":
			collected = append(collected, child)
		case "members":
			for j := range child.Nodes {
				if normalizeKey(child.Nodes[j].XMLName.Local) == "member" {
					collected = append(collected, &child.Nodes[j])
				}
			}
		}
	}
	return collected
}

func findFirstScalar(node *xmlNode) *xmlNode {
	for i := range node.Nodes {
		child := &node.Nodes[i]
		if _, ok := scalarTypeSizes[normalizeKey(child.XMLName.Local)]; ok {
			return child
		}
		if nested := findFirstScalar(child); nested != nil {
			return nested
		}
	}
	return nil
}

func parseMemberElements(nodes []*xmlNode, alias string) ([]Member, error) {
	var members []Member
	for _, node := range nodes {
		scalar := findFirstScalar(node)

		name, ok := node.attr("name", "symbol", "symbol_name", "id")
		if !ok && scalar != nil {
			name, ok = scalar.attr("name", "symbol", "symbol_name", "id")
		}
		if !ok || name == "" {
			return nil, cerr.New(cerr.KindConfigInvalid,
				fmt.Sprintf("assembly %q: member element is missing required attribute 'name'", alias))
		}

		m := Member{Name: name}
		if v, ok := node.attr("datatype"); ok {
			m.Datatype = v
		} else if scalar != nil {
			m.Datatype = strings.ToLower(scalar.XMLName.Local)
		}
		if v, ok := node.attr("direction"); ok {
			m.Direction = NormalizeDirection(strings.ToLower(v))
		}

		offsetStr, ok := node.attr("offset", "byte_offset")
		if !ok && scalar != nil {
			offsetStr, ok = scalar.attr("offset", "byte_offset")
		}
		if ok {
			offset, err := parseInt(offsetStr)
			if err != nil {
				return nil, cerr.Wrap(cerr.KindConfigInvalid, fmt.Sprintf("member %q offset", name), err)
			}
			m.Offset, m.HasOffset = offset, true
		}

		sizeStr, ok := node.attr("size", "length", "byte_length", "bytelength")
		if !ok && scalar != nil {
			sizeStr, ok = scalar.attr("size", "length", "byte_length", "bytelength")
		}
		if ok {
			size, err := parseInt(sizeStr)
			if err != nil {
				return nil, cerr.Wrap(cerr.KindConfigInvalid, fmt.Sprintf("member %q size", name), err)
			}
			m.Size, m.HasSize = size, true
		} else if scalar != nil {
			if size, found := scalarTypeSizes[normalizeKey(scalar.XMLName.Local)]; found && size > 0 {
				m.Size, m.HasSize = size, true
			}
		}

		if v, ok := node.attr("description", "comment"); ok {
			m.Description = v
		} else if scalar != nil {
			if v, ok := scalar.attr("description", "comment"); ok {
				m.Description = v
			} else if scalar.text() != "" {
				m.Description = scalar.text()
			}
		} else if node.text() != "" {
			m.Description = node.text()
		}

		members = append(members, m)
	}
	return members, nil
}

// parseScalarMembers discovers members as typed scalar child elements
// (<DINT>, <BOOL>, ...) when no explicit <Member> elements exist.
func parseScalarMembers(node *xmlNode) []Member {
	var members []Member
	index := 0
	var walk func(n *xmlNode)
	walk = func(n *xmlNode) {
		for i := range n.Nodes {
			child := &n.Nodes[i]
			key := normalizeKey(child.XMLName.Local)
			if size, isScalar := scalarTypeSizes[key]; isScalar {
				name, ok := child.attr("name", "symbol", "symbol_name", "id")
				if !ok {
					name = fmt.Sprintf("%s_%d", child.XMLName.Local, index)
				}
				m := Member{Name: name, Datatype: strings.ToLower(child.XMLName.Local)}
				if v, found := child.attr("offset", "byte_offset"); found {
					if offset, err := parseInt(v); err == nil {
						m.Offset, m.HasOffset = offset, true
					}
				}
				if v, found := child.attr("size", "length", "byte_length", "bytelength"); found {
					if sz, err := parseInt(v); err == nil {
						m.Size, m.HasSize = sz, true
					}
				} else if v, found := child.attr("bit_length", "bits"); found {
					if bits, err := parseInt(v); err == nil && bits%8 == 0 {
						m.Size, m.HasSize = bits/8, true
					}
				}
				if !m.HasSize && size > 0 {
					m.Size, m.HasSize = size, true
				}
				if v, found := child.attr("description", "comment"); found {
					m.Description = v
				} else if child.text() != "" {
					m.Description = child.text()
				}
				members = append(members, m)
				index++
				continue
			}
			walk(child)
		}
	}
	walk(node)
	return members
}

// validateLayout enforces (offset + size) <= assembly.size for members with
// a known placement, and warns (never rejects) on overlapping members.
func validateLayout(asm Assembly, warn func(format string, v ...interface{})) error {
	for _, m := range asm.Members {
		if asm.HasSize() && m.HasOffset && m.HasSize && m.Offset+m.Size > asm.Size {
			return cerr.New(cerr.KindConfigInvalid,
				fmt.Sprintf("assembly %q: member %q spans [%d,%d) beyond declared size %d",
					asm.Alias, m.Name, m.Offset, m.Offset+m.Size, asm.Size))
		}
	}
	for i, a := range asm.Members {
		if !a.HasOffset || !a.HasSize {
			continue
		}
		for _, b := range asm.Members[i+1:] {
			if !b.HasOffset || !b.HasSize {
				continue
			}
			if a.Offset < b.Offset+b.Size && b.Offset < a.Offset+a.Size {
				warn("assembly %q: members %q and %q overlap", asm.Alias, a.Name, b.Name)
			}
		}
	}
	return nil
}
