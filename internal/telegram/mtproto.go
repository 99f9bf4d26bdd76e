package telegram

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bryan-buckman/homedash/internal/model"
	"github.com/gotd/td/crypto"
	"github.com/gotd/td/session"
	gotelegram "github.com/gotd/td/telegram"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
)

// MTProtoClient talks to Telegram as a user account through gotd. The session
// token is either a StringSession as printed by JavaScript MTProto clients or
// the base64 encoding of a gotd session blob.
type MTProtoClient struct {
	appID   int
	appHash string

	mu        sync.Mutex
	client    *gotelegram.Client
	cancel    context.CancelFunc
	done      chan struct{}
	connected bool
}

// NewMTProtoFactory returns a factory for clients using the given app
// credentials.
func NewMTProtoFactory(appID int, appHash string) ClientFactory {
	return func() Client {
		return &MTProtoClient{appID: appID, appHash: appHash}
	}
}

// stringSessionVersion prefixes StringSession tokens. A base64 gotd blob
// never starts with it: the blob is JSON and encodes to "eyJ".
const stringSessionVersion = "1"

// stringSessionKeySize is the length of the MTProto auth key.
const stringSessionKeySize = 256

func decodeBase64(s string) ([]byte, error) {
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if data, err := enc.DecodeString(s); err == nil && len(data) > 0 {
			return data, nil
		}
	}
	return nil, ErrInvalidToken
}

// DecodeToken turns a stored gotd token into session bytes.
func DecodeToken(token string) ([]byte, error) {
	return decodeBase64(strings.TrimSpace(token))
}

// ParseStringSession decodes a StringSession token: the version character
// followed by base64 of the DC id (1 byte), the server address length
// (uint16 BE), the address, the port (uint16 BE) and the auth key.
func ParseStringSession(token string) (*session.Data, error) {
	body, ok := strings.CutPrefix(strings.TrimSpace(token), stringSessionVersion)
	if !ok {
		return nil, fmt.Errorf("%w: unsupported string session version", ErrInvalidToken)
	}
	raw, err := decodeBase64(body)
	if err != nil {
		return nil, err
	}
	if len(raw) < 3 {
		return nil, fmt.Errorf("%w: string session too short", ErrInvalidToken)
	}
	dc := int(raw[0])
	addrLen := int(binary.BigEndian.Uint16(raw[1:3]))
	rest := raw[3:]
	if len(rest) < addrLen+2+stringSessionKeySize {
		return nil, fmt.Errorf("%w: string session truncated", ErrInvalidToken)
	}
	addr := string(rest[:addrLen])
	port := binary.BigEndian.Uint16(rest[addrLen : addrLen+2])

	var key crypto.Key
	copy(key[:], rest[addrLen+2:addrLen+2+stringSessionKeySize])
	id := key.ID()
	return &session.Data{
		DC:        dc,
		Addr:      net.JoinHostPort(addr, strconv.Itoa(int(port))),
		AuthKey:   key[:],
		AuthKeyID: id[:],
	}, nil
}

// storeToken writes the session held by token into storage.
func storeToken(ctx context.Context, storage session.Storage, token string) error {
	token = strings.TrimSpace(token)
	if strings.HasPrefix(token, stringSessionVersion) {
		data, err := ParseStringSession(token)
		if err != nil {
			return err
		}
		loader := session.Loader{Storage: storage}
		return loader.Save(ctx, data)
	}
	data, err := DecodeToken(token)
	if err != nil {
		return err
	}
	return storage.StoreSession(ctx, data)
}

// Connect starts the client in the background and returns once the
// connection is established.
func (c *MTProtoClient) Connect(ctx context.Context, token string) error {
	storage := new(session.StorageMemory)
	if err := storeToken(ctx, storage, token); err != nil {
		if errors.Is(err, ErrInvalidToken) {
			return err
		}
		return fmt.Errorf("load session: %w", err)
	}

	client := gotelegram.NewClient(c.appID, c.appHash, gotelegram.Options{
		SessionStorage: storage,
	})
	runCtx, cancel := context.WithCancel(context.Background())
	ready := make(chan struct{})
	done := make(chan struct{})
	errc := make(chan error, 1)

	c.mu.Lock()
	c.client, c.cancel, c.done = client, cancel, done
	c.mu.Unlock()

	go func() {
		defer close(done)
		err := client.Run(runCtx, func(ctx context.Context) error {
			c.setConnected(true)
			close(ready)
			<-ctx.Done()
			return ctx.Err()
		})
		c.setConnected(false)
		errc <- err
	}()

	select {
	case <-ready:
		return nil
	case err := <-errc:
		cancel()
		return fmt.Errorf("connect: %w", classify(err))
	case <-ctx.Done():
		cancel()
		<-done
		return ctx.Err()
	}
}

func (c *MTProtoClient) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}

// Connected reports whether the background connection is running.
func (c *MTProtoClient) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *MTProtoClient) api() (*gotelegram.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected || c.client == nil {
		return nil, fmt.Errorf("client not connected")
	}
	return c.client, nil
}

// Authorized asks the server whether the session is logged in.
func (c *MTProtoClient) Authorized(ctx context.Context) (bool, error) {
	client, err := c.api()
	if err != nil {
		return false, err
	}
	status, err := client.Auth().Status(ctx)
	if err != nil {
		return false, classify(err)
	}
	return status.Authorized, nil
}

// RecentDialogs fetches the newest dialogs with their last message.
func (c *MTProtoClient) RecentDialogs(ctx context.Context, limit int) ([]model.Dialog, error) {
	client, err := c.api()
	if err != nil {
		return nil, err
	}
	res, err := client.API().MessagesGetDialogs(ctx, &tg.MessagesGetDialogsRequest{
		OffsetPeer: &tg.InputPeerEmpty{},
		Limit:      limit,
	})
	if err != nil {
		return nil, classify(err)
	}

	var (
		dialogs  []tg.DialogClass
		messages []tg.MessageClass
		chats    []tg.ChatClass
		users    []tg.UserClass
	)
	switch r := res.(type) {
	case *tg.MessagesDialogs:
		dialogs, messages, chats, users = r.Dialogs, r.Messages, r.Chats, r.Users
	case *tg.MessagesDialogsSlice:
		dialogs, messages, chats, users = r.Dialogs, r.Messages, r.Chats, r.Users
	default:
		return nil, fmt.Errorf("unexpected dialogs response %T", res)
	}

	titles := make(map[string]string)
	for _, u := range users {
		if user, ok := u.(*tg.User); ok {
			titles[peerKey("user", user.ID)] = strings.TrimSpace(user.FirstName + " " + user.LastName)
		}
	}
	for _, ch := range chats {
		switch chat := ch.(type) {
		case *tg.Chat:
			titles[peerKey("chat", chat.ID)] = chat.Title
		case *tg.ChatForbidden:
			titles[peerKey("chat", chat.ID)] = chat.Title
		case *tg.Channel:
			titles[peerKey("channel", chat.ID)] = chat.Title
		case *tg.ChannelForbidden:
			titles[peerKey("channel", chat.ID)] = chat.Title
		}
	}

	type lastMessage struct {
		text string
		date int
	}
	last := make(map[string]lastMessage)
	for _, m := range messages {
		switch msg := m.(type) {
		case *tg.Message:
			kind, id := peerOf(msg.PeerID)
			last[peerKey(kind, id)+":"+strconv.Itoa(msg.ID)] = lastMessage{text: msg.Message, date: msg.Date}
		case *tg.MessageService:
			kind, id := peerOf(msg.PeerID)
			last[peerKey(kind, id)+":"+strconv.Itoa(msg.ID)] = lastMessage{date: msg.Date}
		}
	}

	out := make([]model.Dialog, 0, len(dialogs))
	for _, d := range dialogs {
		dialog, ok := d.(*tg.Dialog)
		if !ok {
			continue
		}
		kind, id := peerOf(dialog.Peer)
		key := peerKey(kind, id)
		msg := last[key+":"+strconv.Itoa(dialog.TopMessage)]
		date := time.Now()
		if msg.date > 0 {
			date = time.Unix(int64(msg.date), 0)
		}
		out = append(out, model.Dialog{
			ID:          strconv.FormatInt(markedID(kind, id), 10),
			LastMsgID:   dialog.TopMessage,
			Title:       titles[key],
			UnreadCount: dialog.UnreadCount,
			LastMessage: msg.text,
			Date:        date,
		})
	}
	return out, nil
}

// Disconnect stops the background connection and waits for it to exit.
func (c *MTProtoClient) Disconnect() error {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done, c.client = nil, nil, nil
	c.connected = false
	c.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

func peerOf(p tg.PeerClass) (string, int64) {
	switch peer := p.(type) {
	case *tg.PeerUser:
		return "user", peer.UserID
	case *tg.PeerChat:
		return "chat", peer.ChatID
	case *tg.PeerChannel:
		return "channel", peer.ChannelID
	}
	return "", 0
}

func peerKey(kind string, id int64) string {
	return kind + "/" + strconv.FormatInt(id, 10)
}

// markedID returns the Bot API style id: users positive, basic groups
// negated, channels prefixed with -100.
func markedID(kind string, id int64) int64 {
	switch kind {
	case "chat":
		return -id
	case "channel":
		return -1_000_000_000_000 - id
	}
	return id
}

// classify maps RPC errors onto the package's error kinds.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if wait, ok := tgerr.AsFloodWait(err); ok {
		return &FloodWaitError{Wait: wait, Err: err}
	}
	if tgerr.IsCode(err, 420) {
		return &FloodWaitError{Err: err}
	}
	if tgerr.Is(err, "AUTH_KEY_UNREGISTERED", "AUTH_KEY_INVALID", "SESSION_REVOKED", "SESSION_EXPIRED", "USER_DEACTIVATED") {
		return fmt.Errorf("%w: %v", ErrSessionExpired, err)
	}
	return err
}
