package results

import (
	"os"

	"github.com/blevesearch/bleve/v2"

	"github.com/vinayprograms/autokit/errors"
)

// SearchIndex is a full-text index over ledger records so completed
// work stays findable after it spills out of the live map.
type SearchIndex struct {
	index bleve.Index
}

// indexedRecord is the searchable projection of a Record.
type indexedRecord struct {
	Description   string `json:"description"`
	OutputSummary string `json:"output_summary"`
	Status        string `json:"status"`
	CompletedAt   string `json:"completed_at"`
}

// OpenSearchIndex opens or creates the bleve index at path.
func OpenSearchIndex(path string) (*SearchIndex, error) {
	var index bleve.Index
	var err error

	if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
		mapping := bleve.NewIndexMapping()

		recMapping := bleve.NewDocumentMapping()
		textField := bleve.NewTextFieldMapping()
		recMapping.AddFieldMappingsAt("description", textField)
		recMapping.AddFieldMappingsAt("output_summary", textField)
		keywordField := bleve.NewKeywordFieldMapping()
		recMapping.AddFieldMappingsAt("status", keywordField)
		mapping.DefaultMapping = recMapping

		index, err = bleve.New(path, mapping)
	} else {
		index, err = bleve.Open(path)
	}
	if err != nil {
		return nil, errors.Wrap(err, "opening results search index")
	}
	return &SearchIndex{index: index}, nil
}

// Index adds or updates a record in the index.
func (s *SearchIndex) Index(taskID string, rec *Record) error {
	doc := indexedRecord{
		Description:   rec.Description,
		OutputSummary: rec.OutputSummary,
		Status:        rec.Status,
		CompletedAt:   rec.CompletedAt.Format("2006-01-02"),
	}
	if err := s.index.Index(taskID, doc); err != nil {
		return errors.Wrap(err, "indexing result")
	}
	return nil
}

// Hit is a search match.
type Hit struct {
	TaskID string  `json:"task_id"`
	Score  float64 `json:"score"`
}

// Search runs a match query over descriptions and summaries.
func (s *SearchIndex) Search(query string, limit int) ([]Hit, error) {
	if limit <= 0 {
		limit = 10
	}
	q := bleve.NewMatchQuery(query)
	req := bleve.NewSearchRequestOptions(q, limit, 0, false)
	res, err := s.index.Search(req)
	if err != nil {
		return nil, errors.Wrap(err, "searching results")
	}

	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		hits = append(hits, Hit{TaskID: h.ID, Score: h.Score})
	}
	return hits, nil
}

// Delete removes a record from the index.
func (s *SearchIndex) Delete(taskID string) error {
	return s.index.Delete(taskID)
}

// Close releases the index.
func (s *SearchIndex) Close() error {
	return s.index.Close()
}
