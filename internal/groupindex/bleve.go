// Package groupindex provides keyword search over patch group names, backed
// by Bleve.
package groupindex

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
)

// groupDoc is the indexed representation of a patch group. UserID is indexed
// as a keyword so searches can be filtered to one owner.
type groupDoc struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
}

// Hit is a single group-name search hit.
type Hit struct {
	GroupID int64   `json:"group_id"`
	Score   float64 `json:"score"`
}

// Index is a Bleve index over patch group names.
type Index struct {
	index bleve.Index
}

// New creates or opens a Bleve index at path. An existing index is opened and
// reused; remove the directory to force a rebuild after a mapping change.
func New(path string) (*Index, error) {
	im := bleve.NewIndexMapping()

	docMapping := bleve.NewDocumentMapping()
	nameFieldMapping := bleve.NewTextFieldMapping()
	// Standard analyzer (lowercase + tokenize, no stemming) so partial group
	// names match exactly what the user typed.
	nameFieldMapping.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt("name", nameFieldMapping)
	docMapping.AddFieldMappingsAt("user_id", bleve.NewKeywordFieldMapping())
	im.AddDocumentMapping("group", docMapping)
	im.DefaultType = "group"
	im.DefaultMapping = docMapping

	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open group index: %w", openErr)
		}
		return &Index{index: index}, nil
	}

	index, err := bleve.New(path, im)
	if err != nil {
		return nil, fmt.Errorf("failed to create group index: %w", err)
	}
	return &Index{index: index}, nil
}

// Add indexes a group's name under its owner.
func (b *Index) Add(ctx context.Context, groupID, userID int64, name string) error {
	return b.index.Index(strconv.FormatInt(groupID, 10), &groupDoc{
		UserID: strconv.FormatInt(userID, 10),
		Name:   name,
	})
}

// Search returns up to limit groups owned by userID whose name matches query,
// best score first.
func (b *Index) Search(ctx context.Context, userID int64, query string, limit int) ([]*Hit, error) {
	nameQuery := bleve.NewMatchQuery(query)
	nameQuery.SetField("name")
	ownerQuery := bleve.NewTermQuery(strconv.FormatInt(userID, 10))
	ownerQuery.SetField("user_id")

	search := bleve.NewSearchRequest(bleve.NewConjunctionQuery(nameQuery, ownerQuery))
	search.Size = limit
	results, err := b.index.Search(search)
	if err != nil {
		return nil, fmt.Errorf("group search failed: %w", err)
	}
	out := make([]*Hit, 0, len(results.Hits))
	for _, hit := range results.Hits {
		id, err := strconv.ParseInt(hit.ID, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, &Hit{GroupID: id, Score: hit.Score})
	}
	return out, nil
}

// Delete removes a group from the index. Deleting an absent group is a no-op.
func (b *Index) Delete(ctx context.Context, groupID int64) error {
	return b.index.Delete(strconv.FormatInt(groupID, 10))
}

// Count returns the number of indexed groups.
func (b *Index) Count() (uint64, error) {
	return b.index.DocCount()
}

// Close closes the underlying index.
func (b *Index) Close() error {
	return b.index.Close()
}
