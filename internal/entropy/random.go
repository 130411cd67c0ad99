// Package entropy provides the randomness behind every probabilistic
// draw in the kernel. A Source is threaded explicitly through the chaos,
// warning, and cascade engines so deterministic test runs only need a
// seeded source. Production runs may use true randomness via random.org,
// falling back to crypto/rand when the API is unavailable.
// See design doc Section 7.2.
package entropy

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"io"
	"log/slog"
	mrand "math/rand"
	"net/http"
	"sync"
	"time"
)

// Source yields uniform random values. Implementations must be safe for
// concurrent use by multiple tick loops.
type Source interface {
	// Float returns a random float64 in [0, 1).
	Float() float64
	// IntN returns a random int in [0, n). n must be > 0.
	IntN(n int) int
}

// seeded is a deterministic Source backed by math/rand.
type seeded struct {
	mu  sync.Mutex
	rng *mrand.Rand
}

// Seeded returns a deterministic Source. Two sources with the same seed
// produce identical draw sequences.
func Seeded(seed int64) Source {
	return &seeded{rng: mrand.New(mrand.NewSource(seed))}
}

func (s *seeded) Float() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}

func (s *seeded) IntN(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Intn(n)
}

// Client provides true random numbers from random.org with a local pool.
// Implements Source. A nil *Client degrades to crypto/rand.
type Client struct {
	apiKey string
	client *http.Client

	mu   sync.Mutex
	pool []float64
}

// NewClient creates a random.org client. Returns nil if apiKey is empty.
func NewClient(apiKey string) *Client {
	if apiKey == "" {
		return nil
	}
	return &Client{
		apiKey: apiKey,
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

// Float returns a random float64 in [0, 1). Uses the pool, refilling from
// random.org when low. Falls back to crypto/rand on API failure.
func (c *Client) Float() float64 {
	if c == nil {
		return cryptoRandFloat()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.pool) < 10 {
		c.refill()
	}

	if len(c.pool) == 0 {
		return cryptoRandFloat()
	}

	val := c.pool[0]
	c.pool = c.pool[1:]
	return val
}

// IntN returns a random int in [0, n) derived from Float.
func (c *Client) IntN(n int) int {
	if n <= 0 {
		return 0
	}
	i := int(c.Float() * float64(n))
	if i >= n {
		i = n - 1
	}
	return i
}

func (c *Client) refill() {
	req := map[string]any{
		"jsonrpc": "2.0",
		"method":  "generateDecimalFractions",
		"params": map[string]any{
			"apiKey":        c.apiKey,
			"n":             100,
			"decimalPlaces": 6,
		},
		"id": 1,
	}

	body, err := json.Marshal(req)
	if err != nil {
		slog.Debug("random.org marshal failed", "error", err)
		return
	}

	resp, err := c.client.Post("https://api.random.org/json-rpc/4/invoke", "application/json", bytes.NewReader(body))
	if err != nil {
		slog.Debug("random.org fetch failed", "error", err)
		return
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		slog.Debug("random.org read failed", "error", err)
		return
	}

	var result struct {
		Result struct {
			Random struct {
				Data []float64 `json:"data"`
			} `json:"random"`
		} `json:"result"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}

	if err := json.Unmarshal(respBody, &result); err != nil {
		slog.Debug("random.org parse failed", "error", err)
		return
	}

	if result.Error != nil {
		slog.Debug("random.org API error", "error", result.Error.Message)
		return
	}

	c.pool = append(c.pool, result.Result.Random.Data...)
	slog.Debug("random.org pool refilled", "count", len(result.Result.Random.Data))
}

// Enabled returns true if the client has a valid API key.
func (c *Client) Enabled() bool {
	return c != nil && c.apiKey != ""
}

// cryptoSource is a non-deterministic Source over crypto/rand.
type cryptoSource struct{}

// Crypto returns a Source backed by crypto/rand. Used for production
// runs when no random.org key is configured.
func Crypto() Source {
	return cryptoSource{}
}

func (cryptoSource) Float() float64 {
	return cryptoRandFloat()
}

func (cryptoSource) IntN(n int) int {
	if n <= 0 {
		return 0
	}
	i := int(cryptoRandFloat() * float64(n))
	if i >= n {
		i = n - 1
	}
	return i
}

// cryptoRandFloat generates a random float64 using crypto/rand as fallback.
func cryptoRandFloat() float64 {
	var buf [8]byte
	_, err := rand.Read(buf[:])
	if err != nil {
		// This should never happen but return 0.5 as a safe default.
		return 0.5
	}
	// Use only 53 bits for a uniform float64 in [0, 1).
	n := binary.LittleEndian.Uint64(buf[:]) >> 11
	return float64(n) / float64(1<<53)
}
