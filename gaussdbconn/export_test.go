// File export_test exports some methods for better testing.

package gaussdbconn

func NewParseConfigError(conn, msg string, err error) error {
	return &ParseConfigError{
		ConnString: conn,
		msg:        msg,
		err:        err,
	}
}

func NewProtocolViolationError(msg string, err error) error {
	return &ProtocolViolationError{msg: msg, err: err}
}

func NewIOError(op string, err error) error {
	return &IOError{Op: op, err: err}
}

// ReceiveMessage reads the next message of an open function call and ends the call on error.
func (fr *FunctionCallReader) ReceiveMessage() error {
	_, err := fr.receiveMessage()
	if err != nil {
		fr.finish(err)
	}
	return err
}
