package monitor

import (
	"context"

	"go.uber.org/zap"
)

// Observer forwards engine progress for one deployment into the store.
// Store failures are logged and never interrupt the deployment.
type Observer struct {
	ctx     context.Context
	service Service
	id      string
}

func (s Service) Observer(ctx context.Context, id string) *Observer {
	return &Observer{ctx: ctx, service: s, id: id}
}

func (o *Observer) Progress(step string, percent int) {
	if err := o.service.RecordProgress(o.ctx, o.id, step, percent); err != nil {
		o.service.logger().Warn("record progress", zap.String("deployment_id", o.id), zap.Error(err))
	}
}

func (o *Observer) Log(level, message string) {
	if err := o.service.RecordLog(o.ctx, o.id, level, message); err != nil {
		o.service.logger().Warn("record log", zap.String("deployment_id", o.id), zap.Error(err))
	}
}
