package blaze

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/BearBump/ShipBox/internal/integrations/carrier"
	"github.com/BearBump/ShipBox/internal/models"
	"github.com/pkg/errors"
)

const Code = "BLAZE"

var statuses = carrier.StatusMap{
	Codes: carrier.MergeCodes(carrier.CanonicalCodes(), map[string]models.ShipmentStatus{
		"dl":  models.ShipmentStatusDelivered,
		"it":  models.ShipmentStatusInTransit,
		"ofd": models.ShipmentStatusInTransit,
		"pu":  models.ShipmentStatusShipped,
		"pp":  models.ShipmentStatusPending,
		"cn":  models.ShipmentStatusCancelled,
		"rto": models.ShipmentStatusInTransit,
	}),
	Phrases: []carrier.PhraseRule{
		{Contains: []string{"undelivered", "not delivered"}, Status: models.ShipmentStatusInTransit},
		{Contains: []string{"delivered"}, Status: models.ShipmentStatusDelivered},
		{Contains: []string{"out for delivery", "transit"}, Status: models.ShipmentStatusInTransit},
		{Contains: []string{"pickup scheduled", "pickup pending"}, Status: models.ShipmentStatusPending},
		{Contains: []string{"picked", "pickup", "manifested", "shipped"}, Status: models.ShipmentStatusShipped},
		{Contains: []string{"cancel", "void"}, Status: models.ShipmentStatusCancelled},
	},
}

// Client talks to the Blaze Express REST API (flat JSON, api key header).
type Client struct {
	carrier.Base

	baseURL string
	apiKey  string
	httpc   *http.Client
}

func New(baseURL, apiKey string, exec *carrier.Executor) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:9101"
	}
	return &Client{
		Base: carrier.Base{
			CarrierCode:         Code,
			LabelPrefix:         "BLZ",
			TrackingURLTemplate: "https://track.blaze.example/%s",
			Statuses:            statuses,
			Exec:                exec,
		},
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpc:   &http.Client{},
	}
}

type address struct {
	Name    string `json:"name,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Line1   string `json:"line1,omitempty"`
	Line2   string `json:"line2,omitempty"`
	City    string `json:"city,omitempty"`
	State   string `json:"state,omitempty"`
	Pincode string `json:"pincode"`
}

type createReq struct {
	Reference     string   `json:"reference"`
	WeightGrams   int64    `json:"weight_grams"`
	LengthCm      float64  `json:"length_cm,omitempty"`
	WidthCm       float64  `json:"width_cm,omitempty"`
	HeightCm      float64  `json:"height_cm,omitempty"`
	Consignee     address  `json:"consignee"`
	Pickup        *address `json:"pickup,omitempty"`
	PaymentMode   string   `json:"payment_mode"`
	CODAmount     string   `json:"cod_amount,omitempty"`
	DeclaredValue string   `json:"declared_value,omitempty"`
	LabelFormat   string   `json:"label_format"`
}

type createResp struct {
	AWB         string `json:"awb"`
	LabelURL    string `json:"label_url"`
	Service     string `json:"service"`
	TrackingURL string `json:"tracking_url"`
	EDD         string `json:"edd"`
}

type trackResp struct {
	StatusCode string `json:"status_code"`
	Status     string `json:"status"`
	UpdatedAt  string `json:"updated_at"`
	Scans      []struct {
		Code     string `json:"code"`
		Status   string `json:"status"`
		Location string `json:"location"`
		Time     string `json:"time"`
	} `json:"scans"`
}

func toAddress(a *models.Address) address {
	return address{
		Name: a.Name, Phone: a.Phone, Line1: a.Line1, Line2: a.Line2,
		City: a.City, State: a.State, Pincode: a.PostalCode,
	}
}

func (c *Client) GenerateLabel(ctx context.Context, req carrier.LabelRequest) (carrier.LabelResult, error) {
	req = req.WithDefaults()
	if err := req.Validate(); err != nil {
		return carrier.LabelResult{}, err
	}

	body := createReq{
		Reference:   fmt.Sprintf("SHP-%d", req.ShipmentID),
		WeightGrams: req.WeightGrams,
		LengthCm:    req.LengthCm,
		WidthCm:     req.WidthCm,
		HeightCm:    req.HeightCm,
		Consignee:   toAddress(req.Delivery),
		PaymentMode: "PREPAID",
		LabelFormat: strings.ToLower(string(req.Format)),
	}
	if req.Pickup != nil {
		p := toAddress(req.Pickup)
		body.Pickup = &p
	}
	if req.CODAmount != nil && req.CODAmount.IsPositive() {
		body.PaymentMode = "COD"
		body.CODAmount = req.CODAmount.StringFixed(2)
	}
	if req.DeclaredValue != nil {
		body.DeclaredValue = req.DeclaredValue.StringFixed(2)
	}

	var out createResp
	err := c.Executor().Do(ctx, func(ctx context.Context) error {
		return c.call(ctx, http.MethodPost, "/v1/shipments", body, &out)
	})
	if err != nil {
		return carrier.LabelResult{}, errors.Wrap(err, "blaze create shipment")
	}
	if out.AWB == "" {
		return carrier.LabelResult{}, errors.New("blaze create shipment: empty awb")
	}

	res := carrier.LabelResult{
		LabelNumber: out.AWB,
		LabelURL:    strPtr(out.LabelURL),
		ServiceName: out.Service,
		TrackingURL: strPtr(out.TrackingURL),
	}
	if res.TrackingURL == nil {
		res.TrackingURL = c.TrackingURL(out.AWB)
	}
	if out.EDD != "" {
		if t, err := time.Parse("2006-01-02", out.EDD); err == nil {
			res.EstimatedDeliveryDate = &t
		}
	}
	return res, nil
}

func (c *Client) TrackShipment(ctx context.Context, trackingNumber string) carrier.TrackingResult {
	if trackingNumber == "" {
		return carrier.UnknownTracking()
	}
	var out trackResp
	err := c.Executor().Do(ctx, func(ctx context.Context) error {
		return c.call(ctx, http.MethodGet, "/v1/track/"+url.PathEscape(trackingNumber), nil, &out)
	})
	if err != nil {
		slog.Warn("blaze track failed", "tracking_number", trackingNumber, "error", err.Error())
		return carrier.UnknownTracking()
	}

	raw := out.StatusCode
	if raw == "" {
		raw = out.Status
	}
	status := c.NormalizeStatus(raw)
	if status == models.ShipmentStatusUnknown && out.Status != "" {
		status = c.NormalizeStatus(out.Status)
	}

	res := carrier.TrackingResult{Status: status, StatusRaw: out.Status}
	if t, ok := parseTime(out.UpdatedAt); ok {
		res.StatusAt = &t
	}
	for _, s := range out.Scans {
		t, _ := parseTime(s.Time)
		payload, _ := json.Marshal(s)
		res.Events = append(res.Events, carrier.TrackingEvent{
			StatusRaw:   s.Status,
			Description: s.Status,
			Location:    s.Location,
			EventCode:   s.Code,
			OccurredAt:  t,
			PayloadJSON: string(payload),
		})
	}
	return res
}

func (c *Client) CancelShipment(ctx context.Context, trackingNumber, reason string) bool {
	if trackingNumber == "" {
		return false
	}
	var out struct {
		Success bool `json:"success"`
	}
	err := c.Executor().Do(ctx, func(ctx context.Context) error {
		return c.call(ctx, http.MethodPost, "/v1/shipments/"+url.PathEscape(trackingNumber)+"/cancel",
			map[string]string{"reason": reason}, &out)
	})
	if err != nil {
		slog.Warn("blaze cancel failed", "tracking_number", trackingNumber, "error", err.Error())
		return false
	}
	return out.Success
}

func (c *Client) VoidLabel(ctx context.Context, labelNumber string) bool {
	if labelNumber == "" {
		return false
	}
	var out struct {
		Voided bool `json:"voided"`
	}
	err := c.Executor().Do(ctx, func(ctx context.Context) error {
		return c.call(ctx, http.MethodPost, "/v1/labels/"+url.PathEscape(labelNumber)+"/void", nil, &out)
	})
	if err != nil {
		slog.Warn("blaze void failed", "label_number", labelNumber, "error", err.Error())
		return false
	}
	return out.Voided
}

func (c *Client) call(ctx context.Context, method, path string, in, out any) error {
	var buf bytes.Buffer
	if in != nil {
		if err := json.NewEncoder(&buf).Encode(in); err != nil {
			return errors.Wrap(err, "encode")
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return errors.Wrap(err, "new request")
	}
	req.Header.Set("X-Api-Key", c.apiKey)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	if err := carrier.CheckResponse(Code, resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return errors.Wrap(json.NewDecoder(resp.Body).Decode(out), "decode")
}

func parseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
