// Package labelarchive keeps a copy of every issued label document in S3-compatible storage.
package labelarchive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/BearBump/ShipBox/internal/models"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/pkg/errors"
)

type Config struct {
	Endpoint     string
	Region       string
	Bucket       string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
}

type putter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type Archive struct {
	client putter
	bucket string
}

func New(ctx context.Context, cfg Config) (*Archive, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("label archive bucket is required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "load aws config")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
		if cfg.Endpoint != "" {
			endpoint := cfg.Endpoint
			if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
				endpoint = "http://" + endpoint
			}
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	return newWithClient(client, cfg.Bucket), nil
}

func newWithClient(c putter, bucket string) *Archive {
	return &Archive{client: c, bucket: bucket}
}

// Key is where the document of a label lives: labels/{carrier}/{yyyy}/{mm}/{shipmentId}-{labelNumber}.json
func Key(l *models.Label) string {
	return fmt.Sprintf("labels/%s/%s/%d-%s.json",
		strings.ToLower(l.CarrierCode), l.RequestedAt.UTC().Format("2006/01"), l.ShipmentID, l.LabelNumber)
}

type document struct {
	ShipmentID            uint64     `json:"shipment_id"`
	LabelNumber           string     `json:"label_number"`
	CarrierCode           string     `json:"carrier_code"`
	Format                string     `json:"format"`
	LabelURL              *string    `json:"label_url,omitempty"`
	TrackingURL           *string    `json:"tracking_url,omitempty"`
	ServiceName           string     `json:"service_name"`
	EstimatedDeliveryDate *time.Time `json:"estimated_delivery_date,omitempty"`
	Status                string     `json:"status"`
	Fallback              bool       `json:"fallback"`
	RequestedAt           time.Time  `json:"requested_at"`
	GeneratedAt           *time.Time `json:"generated_at,omitempty"`
}

// Put stores the label record as a JSON document and returns its key.
func (a *Archive) Put(ctx context.Context, l *models.Label) (string, error) {
	body, err := json.Marshal(document{
		ShipmentID:            l.ShipmentID,
		LabelNumber:           l.LabelNumber,
		CarrierCode:           l.CarrierCode,
		Format:                string(l.Format),
		LabelURL:              l.LabelURL,
		TrackingURL:           l.TrackingURL,
		ServiceName:           l.ServiceName,
		EstimatedDeliveryDate: l.EstimatedDeliveryDate,
		Status:                string(l.Status),
		Fallback:              l.Fallback,
		RequestedAt:           l.RequestedAt,
		GeneratedAt:           l.GeneratedAt,
	})
	if err != nil {
		return "", errors.Wrap(err, "marshal label document")
	}

	key := Key(l)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
		Metadata: map[string]string{
			"shipment-id": fmt.Sprint(l.ShipmentID),
			"carrier":     l.CarrierCode,
		},
	})
	if err != nil {
		return "", errors.Wrap(err, "put label document")
	}
	return key, nil
}
