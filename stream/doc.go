// Package stream implements the line oriented command protocol shared by the
// instrument emulators.
//
// A Protocol couples a frozen CommandTable with a Config describing the wire
// format: input and output terminators, an optional enquiry handshake, a
// read timeout and an error hook. A Session serves one Protocol over one
// transport: it splits the byte stream into requests with a FrameReader,
// dispatches each request under the device lock and writes the reply.
//
//	proto, err := stream.NewProtocol("ag33220a", []stream.Command{
//	    stream.Bind(pattern.New("get_volt").Escape("VOLT?").EOS().MustBuild(), dev.getVoltage),
//	}, stream.WithInTerminator("\n"), stream.WithOutTerminator("\n"))
//
//	sess := stream.NewSession(conn, proto, stream.WithLocker(dev))
//	err = sess.Serve(ctx)
//
// Dispatch errors never escape a Protocol: unmatched requests, argument decode
// failures and handler errors are passed to the ErrorHandler, whose reply is
// sent instead.
package stream
