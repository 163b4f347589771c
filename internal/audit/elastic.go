package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"admin-auth-service/internal/client"
)

// ElasticSink indexes events for free-text search in the back office.
type ElasticSink struct {
	client *client.ESClient
	index  string
}

func NewElasticSink(es *client.ESClient, index string) *ElasticSink {
	return &ElasticSink{client: es, index: index}
}

func (s *ElasticSink) Name() string { return "elasticsearch" }

func (s *ElasticSink) Write(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	return s.client.Index(ctx, s.index, ev.ID, payload)
}
