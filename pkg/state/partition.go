package state

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/pkg/errors"

	"github.com/moorcd/moor/pkg/environment"
	"github.com/moorcd/moor/pkg/event"
	"github.com/moorcd/moor/pkg/guid"
)

// ErrNoRecord means the service has never been deployed in this
// environment.
var ErrNoRecord = errors.New("no record for service")

// Partition is a backend scoped to one environment.
type Partition struct {
	backend *Backend
	env     environment.Environment
}

var _ event.Writer = &Partition{}

func (p *Partition) Environment() environment.Environment {
	return p.env
}

// prefix keys all of the partition's objects.
func (p *Partition) prefix() string {
	return p.env.PartitionKey() + "/"
}

// lockID names the partition's row in the lock table.
func (p *Partition) lockID() string {
	return p.env.PartitionKey()
}

func (p *Partition) serviceKey(cluster, service string) string {
	return p.prefix() + "services/" + cluster + "/" + service + ".json"
}

// eventKey sorts lexically by time, so a plain listing comes back in
// chronological order.
func (p *Partition) eventKey(e event.Event) string {
	return fmt.Sprintf("%sevents/%020d-%s.json", p.prefix(), e.Time.UnixNano(), e.ID)
}

func (p *Partition) put(ctx context.Context, key string, v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = p.backend.s3.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(p.backend.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	return errors.Wrapf(err, "writing %s", key)
}

func (p *Partition) get(ctx context.Context, key string, v interface{}) error {
	resp, err := p.backend.s3.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.backend.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok && aerr.Code() == s3.ErrCodeNoSuchKey {
			return ErrNoRecord
		}
		return errors.Wrapf(err, "fetching %s", key)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrapf(err, "reading %s", key)
	}
	return errors.Wrapf(json.Unmarshal(body, v), "decoding %s", key)
}

func (p *Partition) list(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := p.backend.s3.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(p.backend.cfg.Bucket),
		Prefix: aws.String(prefix),
	}, func(page *s3.ListObjectsV2Output, _ bool) bool {
		for _, obj := range page.Contents {
			keys = append(keys, aws.StringValue(obj.Key))
		}
		return true
	})
	if err != nil {
		return nil, errors.Wrapf(err, "listing %s", prefix)
	}
	sort.Strings(keys)
	return keys, nil
}

// PutDeployment writes the deployment record for a service, replacing any
// previous one. Callers are expected to hold the partition lock.
func (p *Partition) PutDeployment(ctx context.Context, rec ServiceDeployment) error {
	if rec.Environment == "" {
		rec.Environment = p.env.String()
	}
	return p.put(ctx, p.serviceKey(rec.Cluster, rec.Service), rec)
}

// GetDeployment fetches the deployment record for a service, or
// ErrNoRecord if it has never been deployed here.
func (p *Partition) GetDeployment(ctx context.Context, cluster, service string) (ServiceDeployment, error) {
	var rec ServiceDeployment
	err := p.get(ctx, p.serviceKey(cluster, service), &rec)
	return rec, err
}

// ListDeployments fetches every deployment record in the partition.
func (p *Partition) ListDeployments(ctx context.Context) ([]ServiceDeployment, error) {
	keys, err := p.list(ctx, p.prefix()+"services/")
	if err != nil {
		return nil, err
	}
	recs := make([]ServiceDeployment, 0, len(keys))
	for _, key := range keys {
		var rec ServiceDeployment
		if err := p.get(ctx, key, &rec); err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// AppendEvent records what happened. Events are never overwritten;
// each gets its own key, ordered by time.
func (p *Partition) AppendEvent(ctx context.Context, e event.Event) error {
	if e.ID == "" {
		e.ID = guid.New()
	}
	if e.Time.IsZero() {
		e.Time = p.backend.clock.Now().UTC()
	}
	if e.Environment == "" {
		e.Environment = p.env.String()
	}
	return p.put(ctx, p.eventKey(e), e)
}

// ListEvents returns the partition's history in chronological order.
// A positive limit keeps only the most recent events.
func (p *Partition) ListEvents(ctx context.Context, limit int) ([]event.Event, error) {
	keys, err := p.list(ctx, p.prefix()+"events/")
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(keys) > limit {
		keys = keys[len(keys)-limit:]
	}
	events := make([]event.Event, 0, len(keys))
	for _, key := range keys {
		var e event.Event
		if err := p.get(ctx, key, &e); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, nil
}
