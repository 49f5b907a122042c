package northpost

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/BearBump/ShipBox/internal/integrations/carrier"
	"github.com/BearBump/ShipBox/internal/models"
	"github.com/BearBump/ShipBox/internal/shiperr"
	"github.com/pkg/errors"
)

const Code = "NORTHPOST"

// tokens are refreshed this long before the server says they expire
const tokenSkew = 30 * time.Second

// NorthPost reports free-text statuses only.
var statuses = carrier.StatusMap{
	Codes: carrier.CanonicalCodes(),
	Phrases: []carrier.PhraseRule{
		{Contains: []string{"delivery failed", "delivery attempted", "not delivered"}, Status: models.ShipmentStatusInTransit},
		{Contains: []string{"delivered", "handed over to recipient"}, Status: models.ShipmentStatusDelivered},
		{Contains: []string{"in transit", "arrived at", "departed", "out for delivery", "sorting"}, Status: models.ShipmentStatusInTransit},
		{Contains: []string{"awaiting collection", "booked", "created"}, Status: models.ShipmentStatusPending},
		{Contains: []string{"collected", "dispatched", "accepted"}, Status: models.ShipmentStatusShipped},
		{Contains: []string{"cancelled", "withdrawn"}, Status: models.ShipmentStatusCancelled},
	},
}

// Client talks to the NorthPost consignment API using OAuth client credentials.
type Client struct {
	carrier.Base

	baseURL      string
	clientID     string
	clientSecret string
	httpc        *http.Client
	now          func() time.Time

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

func New(baseURL, clientID, clientSecret string, exec *carrier.Executor) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:9102"
	}
	return &Client{
		Base: carrier.Base{
			CarrierCode:         Code,
			LabelPrefix:         "NP",
			TrackingURLTemplate: "https://northpost.example/track?c=%s",
			Statuses:            statuses,
			Exec:                exec,
		},
		baseURL:      strings.TrimRight(baseURL, "/"),
		clientID:     clientID,
		clientSecret: clientSecret,
		httpc:        &http.Client{},
		now:          time.Now,
	}
}

type party struct {
	Name    string `json:"name,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Address npAddr `json:"address"`
}

type npAddr struct {
	Lines    []string `json:"lines,omitempty"`
	City     string   `json:"city,omitempty"`
	Region   string   `json:"region,omitempty"`
	Postcode string   `json:"postcode"`
	Country  string   `json:"country,omitempty"`
}

type dimensions struct {
	L float64 `json:"l"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

type parcel struct {
	WeightKg   float64     `json:"weight_kg"`
	Dimensions *dimensions `json:"dimensions_cm,omitempty"`
}

type money struct {
	Amount string `json:"amount"`
}

type options struct {
	LabelFormat    string `json:"label_format"`
	CashOnDelivery *money `json:"cash_on_delivery,omitempty"`
	DeclaredValue  string `json:"declared_value,omitempty"`
}

type consignment struct {
	Reference string   `json:"reference"`
	Receiver  party    `json:"receiver"`
	Sender    *party   `json:"sender,omitempty"`
	Parcels   []parcel `json:"parcels"`
	Options   options  `json:"options"`
}

type consignmentReq struct {
	Consignment consignment `json:"consignment"`
}

type consignmentResp struct {
	Data struct {
		ConsignmentNumber string `json:"consignment_number"`
		Documents         struct {
			Label struct {
				URL string `json:"url"`
			} `json:"label"`
		} `json:"documents"`
		Service struct {
			Name string `json:"name"`
		} `json:"service"`
		Tracking struct {
			URL string `json:"url"`
		} `json:"tracking"`
		PromisedDelivery string `json:"promised_delivery"`
	} `json:"data"`
}

type eventsResp struct {
	Data struct {
		Current struct {
			Description string `json:"description"`
			Timestamp   string `json:"timestamp"`
		} `json:"current"`
		Events []struct {
			Type        string `json:"type"`
			Description string `json:"description"`
			Depot       string `json:"depot"`
			Timestamp   string `json:"timestamp"`
		} `json:"events"`
	} `json:"data"`
}

func toParty(a *models.Address) party {
	var lines []string
	for _, l := range []string{a.Line1, a.Line2} {
		if l != "" {
			lines = append(lines, l)
		}
	}
	return party{
		Name:  a.Name,
		Phone: a.Phone,
		Address: npAddr{
			Lines: lines, City: a.City, Region: a.State, Postcode: a.PostalCode, Country: a.Country,
		},
	}
}

func (c *Client) GenerateLabel(ctx context.Context, req carrier.LabelRequest) (carrier.LabelResult, error) {
	req = req.WithDefaults()
	if err := req.Validate(); err != nil {
		return carrier.LabelResult{}, err
	}

	var body consignmentReq
	cons := &body.Consignment
	cons.Reference = fmt.Sprintf("SHP-%d", req.ShipmentID)
	cons.Receiver = toParty(req.Delivery)
	if req.Pickup != nil {
		s := toParty(req.Pickup)
		cons.Sender = &s
	}
	p := parcel{WeightKg: float64(req.WeightGrams) / 1000}
	if req.LengthCm > 0 && req.WidthCm > 0 && req.HeightCm > 0 {
		p.Dimensions = &dimensions{L: req.LengthCm, W: req.WidthCm, H: req.HeightCm}
	}
	cons.Parcels = []parcel{p}
	cons.Options.LabelFormat = string(req.Format)
	if req.CODAmount != nil && req.CODAmount.IsPositive() {
		cons.Options.CashOnDelivery = &money{Amount: req.CODAmount.StringFixed(2)}
	}
	if req.DeclaredValue != nil {
		cons.Options.DeclaredValue = req.DeclaredValue.StringFixed(2)
	}

	var out consignmentResp
	err := c.Executor().Do(ctx, func(ctx context.Context) error {
		return c.call(ctx, http.MethodPost, "/api/v2/consignments", body, &out)
	})
	if err != nil {
		return carrier.LabelResult{}, errors.Wrap(err, "northpost create consignment")
	}
	d := out.Data
	if d.ConsignmentNumber == "" {
		return carrier.LabelResult{}, errors.New("northpost create consignment: empty consignment number")
	}

	res := carrier.LabelResult{
		LabelNumber: d.ConsignmentNumber,
		LabelURL:    strPtr(d.Documents.Label.URL),
		ServiceName: d.Service.Name,
		TrackingURL: strPtr(d.Tracking.URL),
	}
	if res.TrackingURL == nil {
		res.TrackingURL = c.TrackingURL(d.ConsignmentNumber)
	}
	if t, ok := parseTime(d.PromisedDelivery); ok {
		res.EstimatedDeliveryDate = &t
	}
	return res, nil
}

func (c *Client) TrackShipment(ctx context.Context, trackingNumber string) carrier.TrackingResult {
	if trackingNumber == "" {
		return carrier.UnknownTracking()
	}
	var out eventsResp
	err := c.Executor().Do(ctx, func(ctx context.Context) error {
		return c.call(ctx, http.MethodGet, "/api/v2/consignments/"+url.PathEscape(trackingNumber)+"/events", nil, &out)
	})
	if err != nil {
		slog.Warn("northpost track failed", "tracking_number", trackingNumber, "error", err.Error())
		return carrier.UnknownTracking()
	}

	cur := out.Data.Current
	res := carrier.TrackingResult{
		Status:    c.NormalizeStatus(cur.Description),
		StatusRaw: cur.Description,
	}
	if t, ok := parseTime(cur.Timestamp); ok {
		res.StatusAt = &t
	}
	for _, e := range out.Data.Events {
		t, _ := parseTime(e.Timestamp)
		payload, _ := json.Marshal(e)
		res.Events = append(res.Events, carrier.TrackingEvent{
			StatusRaw:   e.Description,
			Description: e.Description,
			Location:    e.Depot,
			EventCode:   e.Type,
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
	err := c.Executor().Do(ctx, func(ctx context.Context) error {
		return c.call(ctx, http.MethodPost, "/api/v2/consignments/"+url.PathEscape(trackingNumber)+"/cancel",
			map[string]string{"reason": reason}, nil)
	})
	if err != nil {
		slog.Warn("northpost cancel failed", "tracking_number", trackingNumber, "error", err.Error())
		return false
	}
	return true
}

func (c *Client) VoidLabel(ctx context.Context, labelNumber string) bool {
	if labelNumber == "" {
		return false
	}
	err := c.Executor().Do(ctx, func(ctx context.Context) error {
		return c.call(ctx, http.MethodPost, "/api/v2/documents/"+url.PathEscape(labelNumber)+"/void", nil, nil)
	})
	if err != nil {
		slog.Warn("northpost void failed", "label_number", labelNumber, "error", err.Error())
		return false
	}
	return true
}

func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.now().Before(c.expiresAt) {
		return c.token, nil
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", c.clientID)
	form.Set("client_secret", c.clientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/oauth/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", errors.Wrap(err, "new token request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "token request")
	}
	defer resp.Body.Close()
	if err := carrier.CheckResponse(Code, resp); err != nil {
		return "", errors.Wrap(err, "token")
	}

	var tr struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", errors.Wrap(err, "decode token")
	}
	if tr.AccessToken == "" {
		return "", errors.New("empty access token")
	}

	c.token = tr.AccessToken
	c.expiresAt = c.now().Add(time.Duration(tr.ExpiresIn)*time.Second - tokenSkew)
	return c.token, nil
}

func (c *Client) dropToken() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}

func (c *Client) call(ctx context.Context, method, path string, in, out any) error {
	token, err := c.accessToken(ctx)
	if err != nil {
		return err
	}

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
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		// token revoked early; the next attempt fetches a fresh one
		c.dropToken()
		return shiperr.Carrier(Code, 0, true, errors.New("access token rejected"))
	}
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
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
