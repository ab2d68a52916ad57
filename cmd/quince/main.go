// Command quince is a demo QUIC client and server built on tinyquic.
package main

import (
	"crypto/tls"
	"fmt"
	"os"
	"time"

	"tinyquic/transport"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "Usage: quince <client|server> [options]")
		os.Exit(2)
	}
	var err error
	switch os.Args[1] {
	case "client":
		err = clientCommand(os.Args[2:])
	case "server":
		err = serverCommand(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newConfig builds the transport.Config shared by both subcommands; each
// caller then fills in what differs (server name/certificates).
func newConfig() *transport.Config {
	return &transport.Config{
		TLS: &tls.Config{
			NextProtos: []string{"quince"},
			MinVersion: tls.VersionTLS13,
		},
		Params: transport.Parameters{
			MaxIdleTimeout:                 30 * time.Second,
			MaxUDPPayloadSize:              1452,
			InitialMaxData:                 1 << 20,
			InitialMaxStreamDataBidiLocal:  1 << 18,
			InitialMaxStreamDataBidiRemote: 1 << 18,
			InitialMaxStreamDataUni:        1 << 18,
			InitialMaxStreamsBidi:          64,
			InitialMaxStreamsUni:           64,
			AckDelayExponent:               3,
			MaxAckDelay:                    25 * time.Millisecond,
		},
	}
}
