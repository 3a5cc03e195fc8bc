package notify

import (
	"errors"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

type stubToken struct {
	done bool
	err  error
}

func (t stubToken) Wait() bool                     { return t.done }
func (t stubToken) WaitTimeout(time.Duration) bool { return t.done }
func (t stubToken) Error() error                   { return t.err }

func (t stubToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	if t.done {
		close(ch)
	}
	return ch
}

type stubClient struct {
	mqtt.Client
	token        stubToken
	disconnected bool
}

func (c *stubClient) Connect() mqtt.Token { return c.token }
func (c *stubClient) Disconnect(uint)     { c.disconnected = true }

func withStubClient(t *testing.T, c *stubClient) {
	t.Helper()
	orig := newClient
	newClient = func(*mqtt.ClientOptions) mqtt.Client { return c }
	t.Cleanup(func() { newClient = orig })
}

func TestMQTTConnectFailureDisconnects(t *testing.T) {
	tests := []struct {
		name  string
		token stubToken
	}{
		{"timeout", stubToken{done: false}},
		{"error", stubToken{done: true, err: errors.New("connection refused")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &stubClient{token: tt.token}
			withStubClient(t, c)

			pub, err := NewMQTTPublisher(MQTTConfig{URL: "tcp://127.0.0.1:1883", ClientID: "test"}, nil)
			if err == nil {
				t.Fatal("expected a connect error")
			}
			if pub != nil {
				t.Error("publisher returned on failure")
			}
			if !c.disconnected {
				t.Error("client left retrying after a failed connect")
			}
		})
	}
}

func TestMQTTConnectSuccessKeepsClient(t *testing.T) {
	c := &stubClient{token: stubToken{done: true}}
	withStubClient(t, c)

	pub, err := NewMQTTPublisher(MQTTConfig{URL: "tcp://127.0.0.1:1883", ClientID: "test", Topic: "fieldmerge"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if pub.client != c || c.disconnected {
		t.Error("connected client should be kept open")
	}
}
