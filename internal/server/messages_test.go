package server

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/npezzotti/go-voicechat/internal/database"
	"github.com/npezzotti/go-voicechat/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_serializeMessage(t *testing.T) {
	message := &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        1,
			Timestamp: Now(),
		},
		Event: EventOpenPopup,
		Data:  types.Popup{Type: PopupAnotherDeviceLogin},
	}

	expected := `{"id":1,"timestamp":"` + message.Timestamp.Format(time.RFC3339Nano) +
		`","event":"openPopup","data":{"type":"anotherDeviceLogin"}}`

	bytes, err := serializeMessage(message)
	assert.NoError(t, err, "expected no error during serialization")
	assert.Equal(t, expected, string(bytes))
}

func TestNewAck(t *testing.T) {
	msg := NewAck(7, EventDisconnectServer, "deny", "Target has higher or equal permission")

	assert.Equal(t, 7, msg.Id)
	assert.Equal(t, EventAck, msg.Event)
	assert.Equal(t, Ack{
		Event:   EventDisconnectServer,
		Outcome: "deny",
		Reason:  "Target has higher or equal permission",
	}, msg.Data)
}

func TestErrInvalidMessage(t *testing.T) {
	msg := ErrInvalidMessage(3)

	assert.Equal(t, EventError, msg.Event)
	e, ok := msg.Data.(types.Error)
	require.True(t, ok)
	assert.Equal(t, TagInvalidPayload, e.Tag)
	assert.Equal(t, 400, e.StatusCode)
}

func TestClientMessage_Unmarshal(t *testing.T) {
	var msg ClientMessage
	err := json.Unmarshal([]byte(`{"id":4,"event":"connectServer","payload":{"userId":"u1","serverId":"s1"}}`), &msg)
	require.NoError(t, err)

	assert.Equal(t, 4, msg.Id)
	assert.Equal(t, EventConnectServer, msg.Event)
	assert.JSONEq(t, `{"userId":"u1","serverId":"s1"}`, string(msg.Payload))
}

func TestUserLocationJSON(t *testing.T) {
	bytes, err := json.Marshal(toUser(databaseUser("u1", "", "")))
	require.NoError(t, err)
	assert.Contains(t, string(bytes), `"currentServerId":null`)
	assert.Contains(t, string(bytes), `"currentChannelId":null`)

	bytes, err = json.Marshal(toUser(databaseUser("u1", "s1", "c1")))
	require.NoError(t, err)
	assert.Contains(t, string(bytes), `"currentServerId":"s1"`)
	assert.Contains(t, string(bytes), `"currentChannelId":"c1"`)
}

func databaseUser(id, serverId, channelId string) database.User {
	return database.User{
		Id:               id,
		Username:         id,
		CurrentServerId:  serverId,
		CurrentChannelId: channelId,
	}
}
