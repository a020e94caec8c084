// Package gaussdbmock provides the ability to mock a GaussDB server.
//
// A Script replays a fixed exchange. A LargeObjectServer emulates the server side of the large object functions.
package gaussdbmock

import (
	"fmt"
	"io"
	"reflect"

	"github.com/HuaweiCloudDeveloper/gaussdb-lo/gaussdbproto"
)

type Step interface {
	Step(*gaussdbproto.Backend) error
}

type Script struct {
	Steps []Step
}

func (s *Script) Run(backend *gaussdbproto.Backend) error {
	for _, step := range s.Steps {
		err := step.Step(backend)
		if err != nil {
			return err
		}
	}

	return nil
}

func (s *Script) Step(backend *gaussdbproto.Backend) error {
	return s.Run(backend)
}

type expectMessageStep struct {
	want gaussdbproto.FrontendMessage
	any  bool
}

func (e *expectMessageStep) Step(backend *gaussdbproto.Backend) error {
	msg, err := backend.Receive()
	if err != nil {
		return err
	}

	if e.any && reflect.TypeOf(msg) == reflect.TypeOf(e.want) {
		return nil
	}

	if !reflect.DeepEqual(msg, e.want) {
		return fmt.Errorf("msg => %#v, e.want => %#v", msg, e.want)
	}

	return nil
}

type expectStartupMessageStep struct {
	want *gaussdbproto.StartupMessage
	any  bool
}

func (e *expectStartupMessageStep) Step(backend *gaussdbproto.Backend) error {
	msg, err := backend.ReceiveStartupMessage()
	if err != nil {
		return err
	}

	if e.any {
		return nil
	}

	if !reflect.DeepEqual(msg, e.want) {
		return fmt.Errorf("msg => %#v, e.want => %#v", msg, e.want)
	}

	return nil
}

func ExpectMessage(want gaussdbproto.FrontendMessage) Step {
	return expectMessage(want, false)
}

func ExpectAnyMessage(want gaussdbproto.FrontendMessage) Step {
	return expectMessage(want, true)
}

func expectMessage(want gaussdbproto.FrontendMessage, any bool) Step {
	if want, ok := want.(*gaussdbproto.StartupMessage); ok {
		return &expectStartupMessageStep{want: want, any: any}
	}

	return &expectMessageStep{want: want, any: any}
}

type sendMessageStep struct {
	msg gaussdbproto.BackendMessage
}

func (e *sendMessageStep) Step(backend *gaussdbproto.Backend) error {
	backend.Send(e.msg)
	return backend.Flush()
}

func SendMessage(msg gaussdbproto.BackendMessage) Step {
	return &sendMessageStep{msg: msg}
}

type waitForCloseMessageStep struct{}

func (e *waitForCloseMessageStep) Step(backend *gaussdbproto.Backend) error {
	for {
		msg, err := backend.Receive()
		if err == io.EOF {
			return nil
		} else if err != nil {
			return err
		}

		if _, ok := msg.(*gaussdbproto.Terminate); ok {
			return nil
		}
	}
}

func WaitForClose() Step {
	return &waitForCloseMessageStep{}
}

// SendFunctionCallResponse sends a FunctionCallResponse carrying result. A nil result is sent as NULL.
func SendFunctionCallResponse(result []byte) Step {
	return SendMessage(&gaussdbproto.FunctionCallResponse{Result: result})
}

// SendError sends an ERROR with code and message.
func SendError(code, message string) Step {
	return SendMessage(&gaussdbproto.ErrorResponse{Severity: "ERROR", SeverityUnlocalized: "ERROR", Code: code, Message: message})
}

// SendReadyForQuery sends ReadyForQuery with txStatus.
func SendReadyForQuery(txStatus byte) Step {
	return SendMessage(&gaussdbproto.ReadyForQuery{TxStatus: txStatus})
}

type sendRawStep struct {
	buf []byte
}

func (e *sendRawStep) Step(backend *gaussdbproto.Backend) error {
	return backend.SendRaw(e.buf)
}

// SendRaw writes buf to the client as is. It is used to send malformed or truncated messages.
func SendRaw(buf []byte) Step {
	return &sendRawStep{buf: buf}
}

func AcceptUnauthenticatedConnRequestSteps() []Step {
	return AcceptConnRequestSteps(nil)
}

// AcceptConnRequestSteps accepts any startup message without authentication and reports params as ParameterStatus
// messages.
func AcceptConnRequestSteps(params map[string]string) []Step {
	steps := []Step{
		ExpectAnyMessage(&gaussdbproto.StartupMessage{ProtocolVersion: gaussdbproto.ProtocolVersionNumber, Parameters: map[string]string{}}),
		SendMessage(&gaussdbproto.AuthenticationOk{}),
	}
	for name, value := range params {
		steps = append(steps, SendMessage(&gaussdbproto.ParameterStatus{Name: name, Value: value}))
	}
	return append(steps,
		SendMessage(&gaussdbproto.BackendKeyData{ProcessID: 0, SecretKey: 0}),
		SendMessage(&gaussdbproto.ReadyForQuery{TxStatus: 'I'}),
	)
}
