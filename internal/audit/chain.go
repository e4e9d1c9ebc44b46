// Package audit implements the tamper-evident event log: a hash-linked,
// optionally signature-stamped, daily-rotated JSONL chain.
//
// Every entry's hash covers prev ‖ canonical JSON of the entry without
// its hash and sig fields, so any byte flipped in a stored entry breaks
// the recomputation, and any removed or reordered entry breaks the
// prev linkage. The head (last hash + seq) carries across day files:
// day D's first entry links to day D−1's last hash.
package audit

import (
	"bufio"
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kurolabs/kuro-gateway/internal/metrics"
	"github.com/kurolabs/kuro-gateway/pkg/models"
	"github.com/rs/zerolog/log"
)

// GenesisHash anchors an empty chain.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

const (
	schemeEd25519 = "ed25519"
	schemeHMAC    = "hmac-sha256"

	headFile    = "audit_chain_head.json"
	signingFile = "signing.key" // hex-encoded ed25519 seed, optional
	dayPrefix   = "audit_chain_"
	daySuffix   = ".jsonl"
)

// Chain is the process-wide audit log. All appends serialize on one
// mutex; the head is rewritten atomically after every append.
type Chain struct {
	mu  sync.Mutex
	dir string

	seq      uint64
	lastHash string

	signKey   ed25519.PrivateKey // nil → HMAC fallback
	verifyKey ed25519.PublicKey
	keyLoaded bool
}

type head struct {
	Seq      uint64 `json:"seq"`
	LastHash string `json:"last_hash"`
}

// New opens (or starts) the chain rooted at dir.
func New(dir string) (*Chain, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	c := &Chain{dir: dir, lastHash: GenesisHash}

	raw, err := os.ReadFile(filepath.Join(dir, headFile))
	switch {
	case err == nil:
		var h head
		if err := json.Unmarshal(raw, &h); err != nil {
			return nil, fmt.Errorf("parse audit head: %w", err)
		}
		c.seq = h.Seq
		c.lastHash = h.LastHash
	case os.IsNotExist(err):
		// fresh chain, genesis head
	default:
		return nil, fmt.Errorf("read audit head: %w", err)
	}

	log.Info().Uint64("seq", c.seq).Str("dir", dir).Msg("Audit chain opened")
	return c, nil
}

// Log appends an entry. Seq, prev, timestamps, hash and sig are assigned
// here; whatever the caller set in those fields is overwritten.
func (c *Chain) Log(e models.AuditEntry) (*models.AuditEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now().UTC()
	e.Seq = c.seq + 1
	e.Timestamp = now.Format(time.RFC3339Nano)
	e.Date = now.Format("20060102")
	e.Prev = c.lastHash
	e.Hash = ""
	e.Sig = ""
	e.SigScheme = ""

	payload, err := canonicalPayload(&e)
	if err != nil {
		return nil, fmt.Errorf("canonicalize audit entry: %w", err)
	}
	sum := sha256.Sum256(append([]byte(e.Prev), payload...))
	e.Hash = hex.EncodeToString(sum[:])
	e.Sig, e.SigScheme = c.sign(e.Prev, payload)

	line, err := json.Marshal(&e)
	if err != nil {
		return nil, fmt.Errorf("marshal audit entry: %w", err)
	}

	if err := c.appendLine(e.Date, line); err != nil {
		// Write failures are logged but must never fail the caller's request.
		metrics.AuditWriteFailures.Inc()
		log.Error().Err(err).Str("action", e.Action).Msg("Audit append failed")
		return &e, nil
	}

	c.seq = e.Seq
	c.lastHash = e.Hash
	if err := c.writeHead(); err != nil {
		metrics.AuditWriteFailures.Inc()
		log.Error().Err(err).Msg("Audit head rewrite failed")
	}
	return &e, nil
}

// canonicalPayload is the signed/hashed byte form: the entry with hash
// and sig cleared, marshaled with the fixed struct field order.
func canonicalPayload(e *models.AuditEntry) ([]byte, error) {
	cp := *e
	cp.Hash = ""
	cp.Sig = ""
	cp.SigScheme = ""
	return json.Marshal(&cp)
}

// sign produces a detached signature over prev ‖ payload. Ed25519 when a
// signing key is present; otherwise HMAC-SHA256 keyed by the genesis
// hash as a weaker tamper-evidence fallback. Signing never aborts the
// write.
func (c *Chain) sign(prev string, payload []byte) (sig, scheme string) {
	c.loadKeyOnce()
	msg := append([]byte(prev), payload...)
	if c.signKey != nil {
		return hex.EncodeToString(ed25519.Sign(c.signKey, msg)), schemeEd25519
	}
	mac := hmac.New(sha256.New, []byte(GenesisHash))
	mac.Write(msg)
	return hex.EncodeToString(mac.Sum(nil)), schemeHMAC
}

// loadKeyOnce lazily reads the optional ed25519 seed. Caller holds c.mu.
func (c *Chain) loadKeyOnce() {
	if c.keyLoaded {
		return
	}
	c.keyLoaded = true
	raw, err := os.ReadFile(filepath.Join(c.dir, signingFile))
	if err != nil {
		return // no key — HMAC fallback
	}
	seed, err := hex.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil || len(seed) != ed25519.SeedSize {
		log.Warn().Msg("Audit signing key unreadable, falling back to HMAC")
		return
	}
	c.signKey = ed25519.NewKeyFromSeed(seed)
	c.verifyKey = c.signKey.Public().(ed25519.PublicKey)
	log.Info().Msg("Audit ed25519 signing key loaded")
}

func (c *Chain) appendLine(date string, line []byte) error {
	f, err := os.OpenFile(c.dayPath(date), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return err
	}
	return f.Sync()
}

func (c *Chain) writeHead() error {
	raw, err := json.Marshal(head{Seq: c.seq, LastHash: c.lastHash})
	if err != nil {
		return err
	}
	tmp := filepath.Join(c.dir, headFile+".tmp")
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(c.dir, headFile))
}

func (c *Chain) dayPath(date string) string {
	return filepath.Join(c.dir, dayPrefix+date+daySuffix)
}

// Dir returns the chain's directory (write gates use it as a deny root).
func (c *Chain) Dir() string { return c.dir }

// Days lists the dates with day files, ascending.
func (c *Chain) Days() ([]string, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, err
	}
	var days []string
	for _, de := range entries {
		name := de.Name()
		if strings.HasPrefix(name, dayPrefix) && strings.HasSuffix(name, daySuffix) {
			days = append(days, strings.TrimSuffix(strings.TrimPrefix(name, dayPrefix), daySuffix))
		}
	}
	sort.Strings(days)
	return days, nil
}

// readDay loads one day file in order. Unparseable lines abort the read:
// the verifier reports them, it does not skip them.
func (c *Chain) readDay(date string) ([]models.AuditEntry, error) {
	f, err := os.Open(c.dayPath(date))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []models.AuditEntry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var e models.AuditEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return out, fmt.Errorf("line %d: %w", len(out)+1, err)
		}
		out = append(out, e)
	}
	return out, sc.Err()
}
