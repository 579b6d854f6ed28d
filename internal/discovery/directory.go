package discovery

import (
	"crypto/rsa"
	"sort"
	"sync"
	"time"
)

// DefaultWindow is how long a peer stays listed without a fresh announcement.
const DefaultWindow = 15 * time.Second

// PeerRecord is a read-only snapshot of one discovered participant.
type PeerRecord struct {
	Username  string
	Address   string
	Port      int
	PublicKey *rsa.PublicKey
	KeyString string
	LastSeen  time.Time
}

// Directory tracks live peers. Expired records are purged whenever the
// directory is read; there is no background sweep.
type Directory struct {
	mu     sync.Mutex
	peers  map[string]PeerRecord
	window time.Duration
	now    func() time.Time
}

// NewDirectory returns an empty directory. A zero window means DefaultWindow
// and a nil clock means time.Now.
func NewDirectory(window time.Duration, now func() time.Time) *Directory {
	if window <= 0 {
		window = DefaultWindow
	}
	if now == nil {
		now = time.Now
	}
	return &Directory{
		peers:  make(map[string]PeerRecord),
		window: window,
		now:    now,
	}
}

// Upsert inserts or refreshes rec, stamping LastSeen with the directory clock.
// It reports whether the peer was absent (or already expired) before the call.
func (d *Directory) Upsert(rec PeerRecord) (joined bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	prev, ok := d.peers[rec.Username]
	joined = !ok || d.expired(prev, now)
	rec.LastSeen = now
	d.peers[rec.Username] = rec
	return joined
}

// List returns the live peers sorted by username.
func (d *Directory) List() []PeerRecord {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.evictLocked()
	out := make([]PeerRecord, 0, len(d.peers))
	for _, p := range d.peers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}

// Find looks up a live peer. A miss means the peer is unreachable.
func (d *Directory) Find(username string) (PeerRecord, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.evictLocked()
	p, ok := d.peers[username]
	return p, ok
}

// Len reports the number of live peers.
func (d *Directory) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.evictLocked()
	return len(d.peers)
}

func (d *Directory) evictLocked() {
	now := d.now()
	for name, p := range d.peers {
		if d.expired(p, now) {
			delete(d.peers, name)
		}
	}
}

func (d *Directory) expired(p PeerRecord, now time.Time) bool {
	return now.Sub(p.LastSeen) > d.window
}
