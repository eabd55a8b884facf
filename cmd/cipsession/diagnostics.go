package main

import (
	"fmt"

	"github.com/tturner/cipsession/internal/session"
)

func printDiagnostics(diag session.Diagnostics) {
	fmt.Printf("session:            %s\n", diag.SessionID)
	fmt.Printf("endpoint:           %s:%d\n", diag.Host, diag.Port)
	fmt.Printf("connected:          %t\n", diag.Connection.Connected)
	fmt.Printf("enip connection id: 0x%08X\n", diag.Connection.EnipConnectionID)
	if diag.Connection.Connected {
		fmt.Printf("o_t connection id:  0x%08X\n", diag.Connection.OTConnID)
		fmt.Printf("t_o connection id:  0x%08X\n", diag.Connection.TOConnID)
		fmt.Printf("sequence:           %d\n", diag.Connection.Sequence)
	}
	fmt.Printf("last status:        %s\n", diag.Connection.LastStatus)
	fmt.Printf("keep-alive pattern: %s\n", diag.KeepAlivePatternHex)
	fmt.Printf("keep-alive active:  %t\n", diag.KeepAliveActive)
	if !diag.LastActivity.IsZero() {
		fmt.Printf("last activity:      %s\n", diag.LastActivity.Format("2006-01-02 15:04:05.000"))
	}
}
