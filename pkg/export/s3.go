// Package export publishes finished run results to S3-compatible storage.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/defectoor/defectoor/pkg/config"
	"github.com/defectoor/defectoor/pkg/store"
	"github.com/sirupsen/logrus"
)

// Exporter uploads run result documents to an S3 bucket.
type Exporter struct {
	log    logrus.FieldLogger
	cfg    *config.ExportConfig
	client *s3.Client
}

// runDocument is the exported shape of one finished run.
type runDocument struct {
	Run     *store.Run              `json:"run"`
	Results []store.ReportData      `json:"results"`
	Types   []store.ReportTypeCount `json:"types"`
}

// NewExporter creates an exporter from the given configuration.
func NewExporter(
	log logrus.FieldLogger,
	cfg *config.ExportConfig,
) (*Exporter, error) {
	opts := []func(*s3.Options){
		func(o *s3.Options) {
			if cfg.Region != "" {
				o.Region = cfg.Region
			} else {
				o.Region = "us-east-1"
			}

			if cfg.EndpointURL != "" {
				o.BaseEndpoint = aws.String(cfg.EndpointURL)
			}

			if cfg.ForcePathStyle {
				o.UsePathStyle = true
			}

			if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
				o.Credentials = credentials.NewStaticCredentialsProvider(
					cfg.AccessKeyID, cfg.SecretAccessKey, "",
				)
			}
		},
	}

	return &Exporter{
		log:    log.WithField("component", "export"),
		cfg:    cfg,
		client: s3.New(s3.Options{}, opts...),
	}, nil
}

// ExportRun collects a run's results from the store and uploads them as a
// single JSON document. Results are fetched in store-sized pages until
// exhausted, so the export is complete regardless of run size.
func (e *Exporter) ExportRun(
	ctx context.Context, st store.Store, runID uint,
) error {
	run, err := st.GetRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("loading run: %w", err)
	}

	doc := runDocument{Run: run}

	for offset := 0; ; offset += store.MaxQuerySize {
		page, err := st.GetRunResults(
			ctx, runID, store.MaxQuerySize, offset, nil, nil,
		)
		if err != nil {
			return fmt.Errorf("loading results: %w", err)
		}

		doc.Results = append(doc.Results, page...)

		if len(page) < store.MaxQuerySize {
			break
		}
	}

	doc.Types, err = st.GetRunResultTypes(ctx, runID, nil)
	if err != nil {
		return fmt.Errorf("loading result types: %w", err)
	}

	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encoding run document: %w", err)
	}

	key := e.resolveKey(run.Name)

	if _, err := e.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(e.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	}); err != nil {
		return fmt.Errorf("uploading to s3://%s/%s: %w", e.cfg.Bucket, key, err)
	}

	e.log.WithFields(logrus.Fields{
		"run":     run.Name,
		"reports": len(doc.Results),
		"bucket":  e.cfg.Bucket,
		"key":     key,
	}).Info("Run exported")

	return nil
}

// resolveKey builds the S3 object key for a run export.
func (e *Exporter) resolveKey(runName string) string {
	prefix := e.cfg.Prefix
	if prefix == "" {
		prefix = "results/runs"
	}

	return strings.TrimRight(prefix, "/") + "/" + runName + ".json"
}
