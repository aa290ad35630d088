package publisher

import (
	"context"
	"fmt"

	"rule-persistence/internal/client"
	"rule-persistence/internal/models"
)

// BulkIndexer is satisfied by client.ESClient.
type BulkIndexer interface {
	BulkIndex(ctx context.Context, index string, docs []client.BulkDocument) error
}

// ElasticsearchIndexer keeps a searchable audit copy of offenders.
type ElasticsearchIndexer struct {
	indexer BulkIndexer
	index   string
}

func NewElasticsearchIndexer(indexer BulkIndexer, index string) *ElasticsearchIndexer {
	return &ElasticsearchIndexer{indexer: indexer, index: index}
}

func (p *ElasticsearchIndexer) PublishOffenders(ctx context.Context, records []models.OffenderRecord) error {
	if len(records) == 0 {
		return nil
	}
	docs := make([]client.BulkDocument, 0, len(records))
	for _, rec := range records {
		docs = append(docs, client.BulkDocument{ID: documentID(rec), Body: toEvent(rec)})
	}
	if err := p.indexer.BulkIndex(ctx, p.index, docs); err != nil {
		return fmt.Errorf("elasticsearch index: %w", err)
	}
	return nil
}
