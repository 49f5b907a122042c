package shipkart

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BearBump/ShipBox/internal/integrations/carrier"
	"github.com/BearBump/ShipBox/internal/models"
	"github.com/BearBump/ShipBox/internal/shiperr"
	"github.com/pkg/errors"
)

const Code = "SHIPKART"

const (
	timeLayout = "2006-01-02 15:04:05"
	maxBody    = 1 << 20
)

var ist = time.FixedZone("IST", 5*3600+1800)

var statuses = carrier.StatusMap{
	Codes: carrier.MergeCodes(carrier.CanonicalCodes(), map[string]models.ShipmentStatus{
		"10": models.ShipmentStatusPending,
		"20": models.ShipmentStatusShipped,
		"30": models.ShipmentStatusInTransit,
		"40": models.ShipmentStatusInTransit,
		"50": models.ShipmentStatusDelivered,
		"60": models.ShipmentStatusCancelled,
	}),
	Phrases: []carrier.PhraseRule{
		{Contains: []string{"signed", "delivered"}, Status: models.ShipmentStatusDelivered},
		{Contains: []string{"dispatch", "delivering", "transit"}, Status: models.ShipmentStatusInTransit},
		{Contains: []string{"collected", "picked"}, Status: models.ShipmentStatusShipped},
		{Contains: []string{"cancel"}, Status: models.ShipmentStatusCancelled},
	},
}

// Client talks to the ShipKart open platform: a single router endpoint, form-encoded
// parameters signed with the app secret, and {code,msg,data} envelopes.
type Client struct {
	carrier.Base

	routerURL string
	appKey    string
	appSecret string
	httpc     *http.Client
	now       func() time.Time
}

func New(baseURL, appKey, appSecret string, exec *carrier.Executor) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:9103"
	}
	return &Client{
		Base: carrier.Base{
			CarrierCode:         Code,
			LabelPrefix:         "SKT",
			TrackingURLTemplate: "https://shipkart.example/waybill/%s",
			Statuses:            statuses,
			Exec:                exec,
		},
		routerURL: strings.TrimRight(baseURL, "/") + "/router/rest",
		appKey:    appKey,
		appSecret: appSecret,
		httpc:     &http.Client{},
		now:       time.Now,
	}
}

type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type waybillReq struct {
	OrderRef     string `json:"order_ref"`
	WeightGrams  int64  `json:"weight"`
	Volume       string `json:"volume,omitempty"`
	ToName       string `json:"to_name,omitempty"`
	ToPhone      string `json:"to_phone,omitempty"`
	ToAddress    string `json:"to_address,omitempty"`
	ToPincode    string `json:"to_pincode"`
	FromPincode  string `json:"from_pincode,omitempty"`
	CODAmount    string `json:"cod_amount,omitempty"`
	InsuredValue string `json:"insured_value,omitempty"`
	PrintType    string `json:"print_type"`
}

type waybillResp struct {
	WaybillNo    string `json:"waybill_no"`
	LabelURL     string `json:"label_url"`
	Product      string `json:"product"`
	ExpectArrive string `json:"expect_arrive"`
}

type traceResp struct {
	State      int    `json:"state"`
	StateDesc  string `json:"state_desc"`
	UpdateTime string `json:"update_time"`
	Traces     []struct {
		State int    `json:"state"`
		Desc  string `json:"desc"`
		Site  string `json:"site"`
		Time  string `json:"time"`
	} `json:"traces"`
}

func (c *Client) GenerateLabel(ctx context.Context, req carrier.LabelRequest) (carrier.LabelResult, error) {
	req = req.WithDefaults()
	if err := req.Validate(); err != nil {
		return carrier.LabelResult{}, err
	}

	d := req.Delivery
	body := waybillReq{
		OrderRef:    fmt.Sprintf("SHP-%d", req.ShipmentID),
		WeightGrams: req.WeightGrams,
		ToName:      d.Name,
		ToPhone:     d.Phone,
		ToAddress:   strings.TrimSpace(strings.Join([]string{d.Line1, d.Line2, d.City, d.State}, " ")),
		ToPincode:   d.PostalCode,
		PrintType:   string(req.Format),
	}
	if req.LengthCm > 0 && req.WidthCm > 0 && req.HeightCm > 0 {
		body.Volume = fmt.Sprintf("%gx%gx%g", req.LengthCm, req.WidthCm, req.HeightCm)
	}
	if req.Pickup != nil {
		body.FromPincode = req.Pickup.PostalCode
	}
	if req.CODAmount != nil && req.CODAmount.IsPositive() {
		body.CODAmount = req.CODAmount.StringFixed(2)
	}
	if req.DeclaredValue != nil {
		body.InsuredValue = req.DeclaredValue.StringFixed(2)
	}

	var out waybillResp
	err := c.Executor().Do(ctx, func(ctx context.Context) error {
		return c.invoke(ctx, "shipkart.waybill.create", body, &out)
	})
	if err != nil {
		return carrier.LabelResult{}, errors.Wrap(err, "shipkart create waybill")
	}
	if out.WaybillNo == "" {
		return carrier.LabelResult{}, errors.New("shipkart create waybill: empty waybill_no")
	}

	res := carrier.LabelResult{
		LabelNumber: out.WaybillNo,
		ServiceName: out.Product,
		TrackingURL: c.TrackingURL(out.WaybillNo),
	}
	if out.LabelURL != "" {
		res.LabelURL = &out.LabelURL
	}
	if out.ExpectArrive != "" {
		if t, err := time.ParseInLocation("2006-01-02", out.ExpectArrive, ist); err == nil {
			res.EstimatedDeliveryDate = &t
		}
	}
	return res, nil
}

func (c *Client) TrackShipment(ctx context.Context, trackingNumber string) carrier.TrackingResult {
	if trackingNumber == "" {
		return carrier.UnknownTracking()
	}
	var out traceResp
	err := c.Executor().Do(ctx, func(ctx context.Context) error {
		return c.invoke(ctx, "shipkart.waybill.trace", map[string]string{"waybill_no": trackingNumber}, &out)
	})
	if err != nil {
		slog.Warn("shipkart trace failed", "tracking_number", trackingNumber, "error", err.Error())
		return carrier.UnknownTracking()
	}

	status := c.NormalizeStatus(strconv.Itoa(out.State))
	if status == models.ShipmentStatusUnknown {
		status = c.NormalizeStatus(out.StateDesc)
	}
	res := carrier.TrackingResult{Status: status, StatusRaw: strconv.Itoa(out.State)}
	if t, ok := parseTime(out.UpdateTime); ok {
		res.StatusAt = &t
	}
	for _, tr := range out.Traces {
		t, _ := parseTime(tr.Time)
		payload, _ := json.Marshal(tr)
		res.Events = append(res.Events, carrier.TrackingEvent{
			StatusRaw:   strconv.Itoa(tr.State),
			Description: tr.Desc,
			Location:    tr.Site,
			EventCode:   strconv.Itoa(tr.State),
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
		Cancelled bool `json:"cancelled"`
	}
	err := c.Executor().Do(ctx, func(ctx context.Context) error {
		return c.invoke(ctx, "shipkart.waybill.cancel",
			map[string]string{"waybill_no": trackingNumber, "reason": reason}, &out)
	})
	if err != nil {
		slog.Warn("shipkart cancel failed", "tracking_number", trackingNumber, "error", err.Error())
		return false
	}
	return out.Cancelled
}

func (c *Client) VoidLabel(ctx context.Context, labelNumber string) bool {
	if labelNumber == "" {
		return false
	}
	var out struct {
		Voided bool `json:"voided"`
	}
	err := c.Executor().Do(ctx, func(ctx context.Context) error {
		return c.invoke(ctx, "shipkart.label.void", map[string]string{"waybill_no": labelNumber}, &out)
	})
	if err != nil {
		slog.Warn("shipkart void failed", "label_number", labelNumber, "error", err.Error())
		return false
	}
	return out.Voided
}

// Sign computes upper(md5(secret + k1v1k2v2... + secret)) over the sorted parameters.
func Sign(secret string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k == "sign" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(secret)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(params[k])
	}
	b.WriteString(secret)

	sum := md5.Sum([]byte(b.String()))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

func (c *Client) invoke(ctx context.Context, method string, biz, out any) error {
	bizJSON, err := json.Marshal(biz)
	if err != nil {
		return errors.Wrap(err, "encode biz content")
	}

	params := map[string]string{
		"method":      method,
		"app_key":     c.appKey,
		"timestamp":   c.now().In(ist).Format(timeLayout),
		"format":      "json",
		"v":           "1.0",
		"sign_method": "md5",
		"biz_content": string(bizJSON),
	}
	params["sign"] = Sign(c.appSecret, params)

	form := url.Values{}
	for k, v := range params {
		form.Set(k, v)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.routerURL, strings.NewReader(form.Encode()))
	if err != nil {
		return errors.Wrap(err, "new request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	if err := carrier.CheckResponse(Code, resp); err != nil {
		return err
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return errors.Wrap(err, "read body")
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return errors.Wrap(err, "decode envelope")
	}
	if env.Code != 0 {
		return businessError(env.Code, env.Msg)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	return errors.Wrap(json.Unmarshal(env.Data, out), "decode data")
}

// businessError maps platform result codes onto HTTP-like classes:
// 4xxxx are request problems, 429xx and 5xxxx are transient.
func businessError(code int, msg string) error {
	err := errors.Errorf("code %d: %s", code, msg)
	switch {
	case code/100 == 429, code >= 50000:
		return shiperr.Carrier(Code, http.StatusServiceUnavailable, true, err)
	case code >= 40000:
		return shiperr.Carrier(Code, http.StatusBadRequest, false, err)
	default:
		return shiperr.Carrier(Code, 0, true, err)
	}
}

func parseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation(timeLayout, s, ist)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}
