package otel

import (
	"context"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"saas-admin/backend/internal/audit"
)

const auditScope = "saas-admin/audit"

type recordEmitter interface {
	Emit(ctx context.Context, rec otellog.Record)
}

// AuditEmitter forwards audit events as OTel log records so they reach the collector alongside
// traces. It implements audit.AuditLogger.
type AuditEmitter struct {
	logger recordEmitter
	now    func() time.Time
}

// NewAuditEmitter returns an emitter on provider, or audit.Nop when provider is nil.
func NewAuditEmitter(provider *sdklog.LoggerProvider) audit.AuditLogger {
	if provider == nil {
		return audit.Nop{}
	}
	return newAuditEmitter(provider.Logger(auditScope))
}

func newAuditEmitter(l recordEmitter) *AuditEmitter {
	return &AuditEmitter{logger: l, now: time.Now}
}

// LogEvent emits one record: body is the action, attributes carry tenant, user, resource and metadata.
func (e *AuditEmitter) LogEvent(ctx context.Context, tenantID, userID, action, resource string, metadata map[string]string) {
	var rec otellog.Record
	now := e.now().UTC()
	rec.SetTimestamp(now)
	rec.SetObservedTimestamp(now)
	rec.SetSeverity(otellog.SeverityInfo)
	rec.SetBody(otellog.StringValue(action))
	if tenantID == "" {
		tenantID = audit.SentinelTenantID
	}
	rec.AddAttributes(
		otellog.String("tenant_id", tenantID),
		otellog.String("resource", resource),
	)
	if userID != "" {
		rec.AddAttributes(otellog.String("user_id", userID))
	}
	for k, v := range metadata {
		rec.AddAttributes(otellog.String("meta."+k, v))
	}
	e.logger.Emit(ctx, rec)
}
