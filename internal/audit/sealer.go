package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/kurolabs/kuro-gateway/pkg/models"
)

// SealDay writes a signed digest over a whole day file under a distinct
// seal path (seal_{YYYYMMDD}.json). Sealing an already-sealed day
// overwrites the seal; the day file itself is never touched.
func (c *Chain) SealDay(date string) (*models.SealRecord, error) {
	raw, err := os.ReadFile(c.dayPath(date))
	if err != nil {
		return nil, fmt.Errorf("read day file: %w", err)
	}
	entries, err := c.readDay(date)
	if err != nil {
		return nil, fmt.Errorf("parse day file: %w", err)
	}

	sum := sha256.Sum256(raw)
	digest := hex.EncodeToString(sum[:])

	c.mu.Lock()
	sig, scheme := c.sign(date, []byte(digest))
	c.mu.Unlock()

	rec := &models.SealRecord{
		Date:      date,
		Entries:   len(entries),
		Digest:    digest,
		Sig:       sig,
		SigScheme: scheme,
		SealedAt:  time.Now().UTC().Format(time.RFC3339),
	}

	out, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return nil, err
	}
	sealPath := filepath.Join(c.dir, "seal_"+date+".json")
	if err := os.WriteFile(sealPath, out, 0o600); err != nil {
		return nil, fmt.Errorf("write seal: %w", err)
	}

	log.Info().Str("date", date).Int("entries", rec.Entries).Msg("Audit day sealed")
	return rec, nil
}

// StartSealer schedules an automatic seal of the previous day shortly
// after midnight UTC. Returns a stop func.
func (c *Chain) StartSealer() func() {
	cr := cron.New(cron.WithLocation(time.UTC))
	_, err := cr.AddFunc("10 0 * * *", func() {
		date := time.Now().UTC().AddDate(0, 0, -1).Format("20060102")
		if _, err := c.SealDay(date); err != nil {
			if !os.IsNotExist(unwrapPathErr(err)) {
				log.Warn().Err(err).Str("date", date).Msg("Automatic seal failed")
			}
		}
	})
	if err != nil {
		log.Warn().Err(err).Msg("Sealer schedule rejected")
		return func() {}
	}
	cr.Start()
	return func() { cr.Stop() }
}

func unwrapPathErr(err error) error {
	type unwrapper interface{ Unwrap() error }
	for {
		u, ok := err.(unwrapper)
		if !ok {
			return err
		}
		inner := u.Unwrap()
		if inner == nil {
			return err
		}
		err = inner
	}
}
