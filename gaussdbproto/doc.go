// Package gaussdbproto is an encoder and decoder of the GaussDB wire protocol.
//
// The primary interfaces are Frontend and Backend. They correspond to a client and server respectively. Messages are
// sent with Send (or a specialized Send variant). Messages are buffered in a bounded WriteBuffer to minimize small
// writes. Call Flush to ensure a message has actually been sent.
//
// The fastpath FunctionCall message is encoded incrementally: FunctionCall.WriteInto writes as much of the message as
// fits into the remaining space of the buffer and can be called again after a flush to continue exactly where it
// stopped. The FunctionCallResponse returned by Frontend.Receive does not copy its payload. It borrows the Frontend's
// read buffer until every declared byte has been consumed.
package gaussdbproto
