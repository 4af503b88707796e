package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/harperreed/healthsync/internal/models"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func TestKafkaNotifierPublishesKeyedJSON(t *testing.T) {
	w := &fakeWriter{}
	n := newKafkaNotifier(w, "device-alerts", nil)
	alert := Alert{
		Kind:                AlertNeedsAttention,
		UserID:              "u1",
		DeviceID:            uuid.New(),
		Vendor:              models.VendorFitbit,
		ConsecutiveFailures: 3,
		RaisedAt:            time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC),
	}

	require.NoError(t, n.Notify(context.Background(), alert))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, alert.DeviceID.String(), string(w.msgs[0].Key))

	var got Alert
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &got))
	assert.Equal(t, alert.Kind, got.Kind)
	assert.Equal(t, 3, got.ConsecutiveFailures)
}

func TestKafkaNotifierWrapsWriteError(t *testing.T) {
	n := newKafkaNotifier(&fakeWriter{err: errors.New("broker down")}, "t", nil)
	err := n.Notify(context.Background(), Alert{DeviceID: uuid.New()})
	assert.ErrorContains(t, err, "broker down")
}

func TestNewKafkaNotifierValidates(t *testing.T) {
	_, err := NewKafkaNotifier(KafkaConfig{Topic: "t"}, nil)
	assert.Error(t, err)
	_, err = NewKafkaNotifier(KafkaConfig{Brokers: []string{"localhost:9092"}}, nil)
	assert.Error(t, err)

	n, err := NewKafkaNotifier(KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "t"}, nil)
	require.NoError(t, err)
	assert.NoError(t, n.Close())
}

func TestLogNotifier(t *testing.T) {
	assert.NoError(t, NewLogNotifier(nil).Notify(context.Background(), Alert{Kind: AlertReauthRequired}))
}
