package replication

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/shelfscan/store"
)

// Puller replicates a remote change feed into the local store. Changes are applied through
// the regular store write path, so they notify index runners like local writes do.
type Puller struct {
	store    *store.Store
	endpoint string
	interval time.Duration
	client   *http.Client

	// since is the sequence number of the last applied change. It is only touched by the
	// goroutine running Run or PullOnce.
	since int64
}

// NewPuller creates a puller for endpoint, the base URL the /changes path is appended to.
func NewPuller(st *store.Store, endpoint string, interval time.Duration) *Puller {
	return &Puller{
		store:    st,
		endpoint: strings.TrimRight(endpoint, "/"),
		interval: interval,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

// Since returns the sequence number of the last applied change.
func (p *Puller) Since() int64 {
	return p.since
}

// Run pulls on start and then every interval until ctx is done. Failures are logged and
// retried on the next tick.
func (p *Puller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if _, err := p.PullOnce(ctx); err != nil && ctx.Err() == nil {
			slog.Warn("replication pull failed", "endpoint", p.endpoint, "since", p.since, "error", err)
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			slog.Info("replication stopped", "endpoint", p.endpoint, "since", p.since)
			return
		}
	}
}

// PullOnce fetches and applies the changes after the last applied sequence number and
// returns how many were applied. A change that fails to apply stops the pull; it is
// fetched again next time.
func (p *Puller) PullOnce(ctx context.Context) (int, error) {
	resp, err := p.fetch(ctx)
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, change := range resp.Changes {
		if change.Seq <= p.since {
			continue
		}
		if err := p.apply(ctx, change); err != nil {
			return applied, errors.Wrapf(err, "failed to apply change %d", change.Seq)
		}
		p.since = change.Seq
		applied++
	}
	if resp.LastSeq > p.since && len(resp.Changes) == applied {
		p.since = resp.LastSeq
	}
	if applied > 0 {
		slog.Info("replicated changes", "endpoint", p.endpoint, "applied", applied, "since", p.since)
	}
	return applied, nil
}

func (p *Puller) fetch(ctx context.Context) (*ChangesResponse, error) {
	u, err := url.Parse(p.endpoint + "/changes")
	if err != nil {
		return nil, errors.Wrapf(err, "invalid replication endpoint %q", p.endpoint)
	}
	query := u.Query()
	query.Set("since", strconv.FormatInt(p.since, 10))
	u.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("Accept", "application/json")
	res, err := p.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch changes")
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return nil, errors.Errorf("unexpected status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	changes := &ChangesResponse{}
	if err := json.NewDecoder(res.Body).Decode(changes); err != nil {
		return nil, errors.Wrap(err, "failed to decode changes")
	}
	return changes, nil
}

func (p *Puller) apply(ctx context.Context, change Change) error {
	if change.Deleted {
		return p.store.DeleteRecord(ctx, change.ID)
	}
	if change.Record == nil {
		return errors.Errorf("change %d has no record", change.Seq)
	}
	record := change.Record.ToRecord()
	if record.ID == "" {
		record.ID = change.ID
	}
	if record.ID != change.ID {
		return errors.Errorf("change %d is for %s but carries record %s", change.Seq, change.ID, record.ID)
	}
	_, err := p.store.UpsertRecord(ctx, record)
	return err
}
