package processor_test

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	gateway "github.com/nimasrn/sms-forwarder/internal/gateways"
	"github.com/nimasrn/sms-forwarder/internal/model"
	"github.com/nimasrn/sms-forwarder/internal/processor"
	"github.com/nimasrn/sms-forwarder/internal/queue"
	"github.com/nimasrn/sms-forwarder/internal/repository"
	"github.com/nimasrn/sms-forwarder/internal/services"
	"github.com/nimasrn/sms-forwarder/pkg/logger"
	"github.com/nimasrn/sms-forwarder/pkg/pg"
	"github.com/nimasrn/sms-forwarder/pkg/redis"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type relayRecorder struct {
	mu       sync.Mutex
	received []gateway.RelayRequest
}

func (r *relayRecorder) handle(ctx *fasthttp.RequestCtx) {
	var req gateway.RelayRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		ctx.SetStatusCode(fasthttp.StatusBadRequest)
		return
	}
	r.mu.Lock()
	r.received = append(r.received, req)
	r.mu.Unlock()
	ctx.SetStatusCode(fasthttp.StatusAccepted)
}

func (r *relayRecorder) all() []gateway.RelayRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]gateway.RelayRequest(nil), r.received...)
}

type flowEnv struct {
	messages *services.MessageService
	devices  *services.DeviceService
	relay    *relayRecorder
	service  *processor.ProcessorService
}

func setupFlow(t *testing.T) *flowEnv {
	l := logger.Nop()

	gdb, err := gorm.Open(sqlite.Open(":memory:"), pg.GormConfig())
	require.NoError(t, err)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, gdb.AutoMigrate(&repository.MessageEntity{}, &repository.DeviceEntity{}, &repository.AdminEntity{}))
	db := pg.New(gdb, gdb)

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	adapter := redis.NewFromClient(client, "flow:")

	rec := &relayRecorder{}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := &fasthttp.Server{Handler: rec.handle}
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = srv.Shutdown() })

	relay, err := gateway.NewClient(gateway.Config{
		Endpoints: []gateway.EndpointConfig{{Name: "primary", URL: "http://" + ln.Addr().String() + "/relay", Weight: 100}},
		Timeout:   time.Second,
	}, l)
	require.NoError(t, err)
	t.Cleanup(func() { _ = relay.Close() })

	qc := queue.QueueConfig{
		Name:              "sms:forward",
		ConsumerGroup:     "forwarders",
		ConsumerName:      "flow",
		MaxRetries:        3,
		VisibilityTimeout: time.Second,
		PollInterval:      20 * time.Millisecond,
		EnableDLQ:         true,
	}
	publisher, err := queue.NewQueue(context.Background(), adapter, qc, l)
	require.NoError(t, err)

	messageRepo := repository.NewMessageRepository(db)
	deviceRepo := repository.NewDeviceRepository(db)
	messages := services.NewMessageService(messageRepo, deviceRepo, db, l).WithPublisher(publisher)
	devices := services.NewDeviceService(deviceRepo, l)

	svc := processor.NewProcessorService(adapter, processor.ServiceConfig{Queue: qc, Consumers: 1, Workers: 2}, l)
	locks := processor.NewIdempotencyService(adapter, processor.DefaultIdempotencyConfig(), l)
	svc.RegisterProcessor(processor.NewForwardProcessor(messages, devices, relay, locks, l))

	return &flowEnv{messages: messages, devices: devices, relay: rec, service: svc}
}

func TestFlow_IngestThenForward(t *testing.T) {
	env := setupFlow(t)
	ctx := context.Background()

	require.NoError(t, env.service.Start())
	defer env.service.Stop()

	msg, err := env.messages.Ingest(ctx, model.MessageIngestRequest{
		Sender:   "+15551234567",
		Content:  "Your verification code is 482913",
		DeviceID: "pixel-7",
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		m, err := env.messages.Get(ctx, msg.ID)
		return err == nil && m.Status == model.MessageStatusForwarded
	}, 5*time.Second, 20*time.Millisecond)

	got := env.relay.all()
	require.Len(t, got, 1)
	assert.Equal(t, msg.ID.String(), got[0].MessageID)
	assert.Equal(t, "+15551234567", got[0].Sender)
	assert.Equal(t, "482913", got[0].OTP)

	stats, err := env.devices.GetStats(ctx, "pixel-7")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.MessagesReceived)
	assert.Equal(t, int64(1), stats.MessagesForwarded)
}

func TestFlow_DisabledDeviceIsSkipped(t *testing.T) {
	env := setupFlow(t)
	ctx := context.Background()

	// the first message creates the device before forwarding starts
	first, err := env.messages.Ingest(ctx, model.MessageIngestRequest{Sender: "+15550000", Content: "hello", DeviceID: "pixel-8"})
	require.NoError(t, err)

	disabled := false
	_, err = env.devices.Update(ctx, "pixel-8", model.DeviceUpdate{Settings: &model.DeviceSettingsPatch{Enabled: &disabled}})
	require.NoError(t, err)

	require.NoError(t, env.service.Start())
	defer env.service.Stop()

	require.Eventually(t, func() bool {
		return env.service.Metrics().Snapshot().Processed == 1
	}, 5*time.Second, 20*time.Millisecond)

	m, err := env.messages.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MessageStatusReceived, m.Status)
	assert.Empty(t, env.relay.all())
}
