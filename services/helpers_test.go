package services

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/nazim05-hub/MessengerX/models"
)

var errBrokenPipe = errors.New("broken pipe")

// fakeConn records every frame written to it
type fakeConn struct {
	id string

	mu     sync.Mutex
	frames [][]byte
	fail   error
	closed int
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id}
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail != nil {
		return c.fail
	}
	c.frames = append(c.frames, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	return nil
}

func (c *fakeConn) failWith(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fail = err
}

func (c *fakeConn) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

// received decodes every frame as {"type":..., "data":...}
func (c *fakeConn) received(t *testing.T) []receivedFrame {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]receivedFrame, 0, len(c.frames))
	for _, raw := range c.frames {
		var f receivedFrame
		require.NoError(t, json.Unmarshal(raw, &f))
		out = append(out, f)
	}
	return out
}

type receivedFrame struct {
	Type string                 `json:"type"`
	Data map[string]interface{} `json:"data"`
}

// setupTestDB creates an in-memory SQLite database for testing. A single
// connection keeps every query on the same in-memory database.
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err, "failed to open test database")

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(models.All()...), "failed to migrate test database")
	return db
}

const (
	alice uint = 1
	bob   uint = 2
	carol uint = 3
	dave  uint = 4

	groupChat   uint = 10
	aliceMsg    uint = 100
	unknownChat uint = 99
)

// seedChat creates four users, a chat with alice, bob and carol, and one
// message from alice. dave belongs to no chat.
func seedChat(t *testing.T, db *gorm.DB) {
	t.Helper()

	users := []models.User{
		{ID: alice, Email: "alice@example.com", Username: "alice", Avatar: "a.png", IsActive: true},
		{ID: bob, Email: "bob@example.com", Username: "bob", IsActive: true},
		{ID: carol, Email: "carol@example.com", Username: "carol", IsActive: true},
		{ID: dave, Email: "dave@example.com", Username: "dave", IsActive: true},
	}
	require.NoError(t, db.Create(&users).Error)

	require.NoError(t, db.Create(&models.Chat{ID: groupChat, Name: "team", IsGroup: true, CreatedBy: alice}).Error)
	for _, id := range []uint{alice, bob, carol} {
		require.NoError(t, db.Create(&models.ChatParticipant{ChatID: groupChat, UserID: id}).Error)
	}

	require.NoError(t, db.Create(&models.Message{ID: aliceMsg, ChatID: groupChat, SenderID: alice, Content: "hi", MessageType: "text"}).Error)
}
