package model

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"plastron.evalgo.org/common"
	"plastron.evalgo.org/rdf"
)

const vocabBucket = "vocabularies"

// VocabularyCache holds the subject sets of fetched vocabulary graphs. It
// is read-mostly: lookups take a read lock while fetch and refresh take
// the write lock, so concurrent validation across jobs stays safe. With a
// persistence path attached, fetched vocabularies survive restarts.
type VocabularyCache struct {
	mu         sync.RWMutex
	httpClient *http.Client
	db         *bolt.DB
	vocabs     map[string]map[string]struct{}
}

// NewVocabularyCache returns an empty in-memory cache.
func NewVocabularyCache() *VocabularyCache {
	return &VocabularyCache{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		vocabs:     make(map[string]map[string]struct{}),
	}
}

var (
	vocabCache     *VocabularyCache
	vocabCacheOnce sync.Once
)

// Vocabularies returns the process-wide vocabulary cache.
func Vocabularies() *VocabularyCache {
	vocabCacheOnce.Do(func() {
		vocabCache = NewVocabularyCache()
	})
	return vocabCache
}

// SetHTTPClient replaces the HTTP client used for fetching.
func (c *VocabularyCache) SetHTTPClient(client *http.Client) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.httpClient = client
}

// Persist attaches a bbolt database at path and loads any stored
// vocabularies into memory.
func (c *VocabularyCache) Persist(path string) error {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return fmt.Errorf("failed to open vocabulary cache %s: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(vocabBucket))
		return err
	}); err != nil {
		db.Close()
		return fmt.Errorf("failed to create vocabulary bucket: %w", err)
	}

	loaded := make(map[string]map[string]struct{})
	if err := db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(vocabBucket)).ForEach(func(k, v []byte) error {
			var terms []string
			if err := json.Unmarshal(v, &terms); err != nil {
				return fmt.Errorf("failed to unmarshal vocabulary %s: %w", k, err)
			}
			set := make(map[string]struct{}, len(terms))
			for _, t := range terms {
				set[t] = struct{}{}
			}
			loaded[string(k)] = set
			return nil
		})
	}); err != nil {
		db.Close()
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.db = db
	for uri, set := range loaded {
		c.vocabs[uri] = set
	}
	common.Logger.WithFields(map[string]interface{}{
		"component": "vocab",
		"path":      path,
		"count":     len(loaded),
	}).Debug("Loaded persisted vocabularies")
	return nil
}

// Close releases the persistence database if one is attached.
func (c *VocabularyCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	return err
}

// Contains reports whether term is a subject of the vocabulary at
// vocabURI, fetching the vocabulary on first use.
func (c *VocabularyCache) Contains(vocabURI, term string) (bool, error) {
	c.mu.RLock()
	set, ok := c.vocabs[vocabURI]
	c.mu.RUnlock()
	if !ok {
		var err error
		set, err = c.fetchAndStore(vocabURI)
		if err != nil {
			return false, err
		}
	}
	_, found := set[term]
	return found, nil
}

// Refresh refetches the vocabulary at vocabURI, replacing the cached set.
func (c *VocabularyCache) Refresh(vocabURI string) error {
	_, err := c.fetchAndStore(vocabURI)
	return err
}

func (c *VocabularyCache) fetchAndStore(vocabURI string) (map[string]struct{}, error) {
	set, err := c.fetch(vocabURI)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.vocabs[vocabURI] = set
	db := c.db
	c.mu.Unlock()

	if db != nil {
		terms := make([]string, 0, len(set))
		for t := range set {
			terms = append(terms, t)
		}
		data, err := json.Marshal(terms)
		if err != nil {
			return set, fmt.Errorf("failed to marshal vocabulary %s: %w", vocabURI, err)
		}
		if err := db.Update(func(tx *bolt.Tx) error {
			return tx.Bucket([]byte(vocabBucket)).Put([]byte(vocabURI), data)
		}); err != nil {
			common.Logger.WithFields(map[string]interface{}{
				"component":  "vocab",
				"vocabulary": vocabURI,
			}).WithError(err).Warn("Failed to persist vocabulary")
		}
	}
	return set, nil
}

func (c *VocabularyCache) fetch(vocabURI string) (map[string]struct{}, error) {
	c.mu.RLock()
	client := c.httpClient
	c.mu.RUnlock()

	req, err := http.NewRequest(http.MethodGet, vocabURI, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid vocabulary URI %q: %w", vocabURI, err)
	}
	req.Header.Set("Accept", "text/turtle")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch vocabulary %s: %w", vocabURI, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("failed to fetch vocabulary %s: %s", vocabURI, resp.Status)
	}

	g, err := rdf.DecodeGraph(resp.Body, rdf.Turtle)
	if err != nil {
		return nil, fmt.Errorf("failed to parse vocabulary %s: %w", vocabURI, err)
	}

	set := make(map[string]struct{})
	for _, t := range g.Triples() {
		if iri, ok := t.Subj.(rdf.IRI); ok {
			set[iri.String()] = struct{}{}
		}
	}
	common.Logger.WithFields(map[string]interface{}{
		"component":  "vocab",
		"vocabulary": vocabURI,
		"terms":      len(set),
	}).Debug("Fetched vocabulary")
	return set, nil
}
