package pipeline

import (
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dunamismax/cropflow/internal/id"
)

// Preview is a short-lived handle on the raw source bytes, served while the
// user adjusts the crop. It must be revoked once the session ends.
type Preview struct {
	ID          string    `json:"id"`
	URL         string    `json:"url"`
	ContentType string    `json:"content_type"`
	Bytes       int       `json:"bytes"`
	CreatedAt   time.Time `json:"created_at"`
}

type previewEntry struct {
	preview Preview
	data    []byte
}

// Previews is a bounded registry. Evicting the least recently used entry
// revokes it exactly like an explicit Revoke.
type Previews struct {
	cache   *lru.Cache[string, previewEntry]
	baseURL string
	onDrop  func()
}

func NewPreviews(capacity int, baseURL string) (*Previews, error) {
	p := &Previews{baseURL: strings.TrimRight(baseURL, "/"), onDrop: func() {}}
	cache, err := lru.NewWithEvict[string, previewEntry](capacity, func(string, previewEntry) {
		p.onDrop()
	})
	if err != nil {
		return nil, err
	}
	p.cache = cache
	return p, nil
}

func (p *Previews) Create(data []byte, contentType string) Preview {
	pid := id.New()
	preview := Preview{
		ID:          pid,
		URL:         p.baseURL + "/" + pid,
		ContentType: contentType,
		Bytes:       len(data),
		CreatedAt:   time.Now().UTC(),
	}
	p.cache.Add(pid, previewEntry{preview: preview, data: data})
	return preview
}

// Get returns the preview bytes while the preview is live.
func (p *Previews) Get(previewID string) (Preview, []byte, bool) {
	entry, ok := p.cache.Get(previewID)
	if !ok {
		return Preview{}, nil, false
	}
	return entry.preview, entry.data, true
}

// Revoke drops a preview. Revoking twice is harmless.
func (p *Previews) Revoke(previewID string) {
	p.cache.Remove(previewID)
}

func (p *Previews) Len() int {
	return p.cache.Len()
}
