package notify

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/BearBump/ShipBox/internal/broker/messages"
	"github.com/BearBump/ShipBox/internal/models"
	"github.com/pkg/errors"
)

const (
	TaskPublishLabel = "publish_label_generated"
	TaskArchiveLabel = "archive_label"
)

type Publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

type Archiver interface {
	Put(ctx context.Context, l *models.Label) (string, error)
}

// LabelNotifier turns a freshly issued label into dispatcher tasks.
// Publisher and Archiver are optional.
type LabelNotifier struct {
	d       *Dispatcher
	pub     Publisher
	topic   string
	archive Archiver
}

func NewLabelNotifier(d *Dispatcher, pub Publisher, topic string, archive Archiver) *LabelNotifier {
	return &LabelNotifier{d: d, pub: pub, topic: topic, archive: archive}
}

func (n *LabelNotifier) LabelIssued(sh *models.Shipment, l *models.Label) {
	if n == nil || n.d == nil {
		return
	}
	shipment, label := *sh, *l

	if n.pub != nil && n.topic != "" {
		n.submit(Task{
			Name:       TaskPublishLabel,
			ShipmentID: label.ShipmentID,
			Run: func(ctx context.Context) error {
				msg := messages.NewLabelGenerated(&shipment, &label)
				b, err := json.Marshal(msg)
				if err != nil {
					return errors.Wrap(err, "marshal label message")
				}
				return n.pub.Publish(ctx, n.topic, msg.Key(), b)
			},
		})
	}
	if n.archive != nil {
		n.submit(Task{
			Name:       TaskArchiveLabel,
			ShipmentID: label.ShipmentID,
			Run: func(ctx context.Context) error {
				key, err := n.archive.Put(ctx, &label)
				if err != nil {
					return err
				}
				slog.Info("label archived", "shipment_id", label.ShipmentID, "key", key)
				return nil
			},
		})
	}
}

func (n *LabelNotifier) submit(t Task) {
	if err := n.d.Submit(t); err != nil {
		n.d.report(TaskError{Task: t.Name, ShipmentID: t.ShipmentID, Err: err})
	}
}
