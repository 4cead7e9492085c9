package db

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/google/uuid"

	"github.com/wuwenbin0122/roomchat/internal/models"
)

// Pebble stores each turn under session:<id>:turn:<unix_nano>-<seq> so a
// prefix scan returns the session in insertion order.
type Pebble struct {
	db *pebble.DB

	// mu serialises appends so that key order matches arrival order even when
	// two writers observe the same nanosecond or the clock steps back.
	mu   sync.Mutex
	seq  uint64
	last map[string]int64
	now  func() time.Time
}

type pebbleTurn struct {
	ID        string      `json:"id"`
	SessionID string      `json:"session_id"`
	Role      models.Role `json:"role"`
	Content   string      `json:"content"`
	CreatedAt time.Time   `json:"created_at"`
}

// OpenPebble opens (or creates) a database at path. opts may be nil; tests
// pass an in-memory vfs.
func OpenPebble(path string, opts *pebble.Options) (*Pebble, error) {
	if opts == nil {
		opts = &pebble.Options{}
	}

	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("pebble: open %s: %w", path, err)
	}

	return &Pebble{
		db:   db,
		last: make(map[string]int64),
		now:  time.Now,
	}, nil
}

func (p *Pebble) Append(ctx context.Context, sessionID string, role models.Role, content string) (models.Turn, error) {
	if err := validateAppend(sessionID, role); err != nil {
		return models.Turn{}, err
	}
	if err := ctx.Err(); err != nil {
		return models.Turn{}, persistenceError("append", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	last, err := p.lastStampLocked(sessionID)
	if err != nil {
		return models.Turn{}, persistenceError("append", err)
	}
	ts := p.now().UTC().UnixNano()
	if ts <= last {
		ts = last + 1
	}
	p.last[sessionID] = ts
	p.seq++
	s := p.seq

	row := pebbleTurn{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		CreatedAt: time.Unix(0, ts).UTC(),
	}

	data, err := json.Marshal(row)
	if err != nil {
		return models.Turn{}, persistenceError("marshal turn", err)
	}

	if err := p.db.Set(turnKey(sessionID, ts, s), data, pebble.Sync); err != nil {
		return models.Turn{}, persistenceError("append", err)
	}

	return row.toTurn(), nil
}

// lastStampLocked returns the newest key timestamp for the session, read from
// disk the first time a session is appended to after opening.
func (p *Pebble) lastStampLocked(sessionID string) (int64, error) {
	if ts, ok := p.last[sessionID]; ok {
		return ts, nil
	}

	prefix := sessionPrefix(sessionID)
	iter, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	var ts int64
	if iter.Last() {
		ts, err = keyStamp(iter.Key()[len(prefix):])
		if err != nil {
			return 0, err
		}
	}
	if err := iter.Error(); err != nil {
		return 0, err
	}

	p.last[sessionID] = ts
	return ts, nil
}

func (p *Pebble) ListTurns(ctx context.Context, sessionID string) ([]models.Turn, error) {
	if err := ctx.Err(); err != nil {
		return nil, persistenceError("list turns", err)
	}

	prefix := sessionPrefix(sessionID)
	iter, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return nil, persistenceError("list turns", err)
	}
	defer iter.Close()

	turns := make([]models.Turn, 0)
	for iter.First(); iter.Valid(); iter.Next() {
		var row pebbleTurn
		if err := json.Unmarshal(iter.Value(), &row); err != nil {
			return nil, persistenceError(fmt.Sprintf("decode %s", iter.Key()), err)
		}
		turns = append(turns, row.toTurn())
	}
	if err := iter.Error(); err != nil {
		return nil, persistenceError("list turns", err)
	}

	return turns, nil
}

func (p *Pebble) Ping(ctx context.Context) error {
	if p == nil || p.db == nil {
		return fmt.Errorf("pebble: not opened")
	}
	return ctx.Err()
}

func (p *Pebble) Close(ctx context.Context) error {
	if p == nil || p.db == nil {
		return nil
	}
	err := p.db.Close()
	p.db = nil
	return err
}

func (r pebbleTurn) toTurn() models.Turn {
	createdAt := r.CreatedAt
	return models.Turn{
		ID:        r.ID,
		SessionID: r.SessionID,
		Role:      r.Role,
		Content:   r.Content,
		CreatedAt: &createdAt,
		State:     models.StateConfirmed,
	}
}

func sessionPrefix(sessionID string) []byte {
	return []byte("session:" + sessionID + ":turn:")
}

func turnKey(sessionID string, ts int64, seq uint64) []byte {
	return []byte(fmt.Sprintf("session:%s:turn:%020d-%020d", sessionID, ts, seq))
}

func keyStamp(suffix []byte) (int64, error) {
	raw, _, ok := strings.Cut(string(suffix), "-")
	if !ok {
		return 0, fmt.Errorf("pebble: malformed turn key suffix %q", suffix)
	}
	ts, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("pebble: malformed turn key suffix %q: %w", suffix, err)
	}
	return ts, nil
}

func prefixUpperBound(prefix []byte) []byte {
	upper := append([]byte(nil), prefix...)
	for i := len(upper) - 1; i >= 0; i-- {
		upper[i]++
		if upper[i] != 0 {
			return upper[:i+1]
		}
	}
	return nil
}
