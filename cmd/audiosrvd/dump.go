package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tphakala/crasgo/internal/conf"
	"github.com/tphakala/crasgo/internal/protocol"
)

// dumpCommand connects to a running server's control socket and
// requests a device/stream snapshot (§6: dump_* message family).
func dumpCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "dump",
		Short: "Dump audio-thread diagnostic state from a running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDump(settings)
		},
	}
}

func runDump(settings *conf.Settings) error {
	path, err := protocol.SocketPath(settings.Server.RuntimeDir, protocol.SocketControl)
	if err != nil {
		return err
	}

	conn, err := protocol.Dial(path)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	req := make([]byte, 8)
	protocol.EncodeHeader(req, protocol.Header{Length: 8, ID: protocol.MsgDumpAudioThread})
	if err := conn.Send(req); err != nil {
		return err
	}

	buf := make([]byte, 65536)
	n, err := conn.Recv(buf)
	if err != nil {
		return err
	}
	hdr, err := protocol.DecodeHeader(buf[:n])
	if err != nil {
		return err
	}
	fmt.Printf("dump reply id=%d payload=%d bytes\n", hdr.ID, n-8)
	fmt.Printf("%s\n", buf[8:n])
	return nil
}
