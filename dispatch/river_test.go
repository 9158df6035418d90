package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeInserter struct {
	args []river.JobArgs
	err  error
}

func (f *fakeInserter) Insert(_ context.Context, args river.JobArgs, _ *river.InsertOpts) (*rivertype.JobInsertResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.args = append(f.args, args)
	return &rivertype.JobInsertResult{Job: &rivertype.JobRow{ID: int64(len(f.args))}}, nil
}

func TestRiverDispatcher_InsertsVerbatimBody(t *testing.T) {
	ins := &fakeInserter{}
	log, _ := logtest.NewNullLogger()
	d := NewRiverDispatcher(ins, log)

	body := []byte(`{"type": "payment.succeeded",  "data":{}}`)
	require.NoError(t, d.Dispatch(context.Background(), "msg_1", "1700000000", body))
	require.Len(t, ins.args, 1)

	args, ok := ins.args[0].(WebhookEventArgs)
	require.True(t, ok)
	assert.Equal(t, "msg_1", args.WebhookID)
	assert.Equal(t, body, args.Body)
	assert.Equal(t, "inbound_webhook_event", args.Kind())
	assert.Equal(t, QueueName, args.InsertOpts().Queue)
}

func TestRiverDispatcher_InsertError(t *testing.T) {
	d := NewRiverDispatcher(&fakeInserter{err: errors.New("db down")}, nil)
	assert.Error(t, d.Dispatch(context.Background(), "msg_1", "1", nil))

	assert.Error(t, NewRiverDispatcher(nil, nil).Dispatch(context.Background(), "msg_1", "1", nil))
}

func TestWebhookEventArgs_BodySurvivesJSON(t *testing.T) {
	in := WebhookEventArgs{WebhookID: "msg_1", Body: []byte("not json \x00\xff")}
	b, err := json.Marshal(in)
	require.NoError(t, err)
	var out WebhookEventArgs
	require.NoError(t, json.Unmarshal(b, &out))
	assert.Equal(t, in.Body, out.Body)
}

func TestWorker_Work(t *testing.T) {
	log, _ := logtest.NewNullLogger()
	var got WebhookEventArgs
	w := NewWorker(func(_ context.Context, ev WebhookEventArgs) error {
		got = ev
		return nil
	}, log)

	job := &river.Job[WebhookEventArgs]{
		JobRow: &rivertype.JobRow{ID: 7, Attempt: 1},
		Args:   WebhookEventArgs{WebhookID: "msg_1", Body: []byte(`{}`)},
	}
	require.NoError(t, w.Work(context.Background(), job))
	assert.Equal(t, "msg_1", got.WebhookID)

	failing := NewWorker(func(context.Context, WebhookEventArgs) error { return errors.New("boom") }, log)
	assert.Error(t, failing.Work(context.Background(), job))

	assert.NoError(t, NewWorker(nil, log).Work(context.Background(), job))
}
