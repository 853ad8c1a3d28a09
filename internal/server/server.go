package server

import (
	"context"
	"net/http"
	"time"

	agreementdomain "github.com/Torqvoice/torqvoice-sub001/internal/agreement/domain"
	auditdomain "github.com/Torqvoice/torqvoice-sub001/internal/audit/domain"
	"github.com/Torqvoice/torqvoice-sub001/internal/authorization"
	"github.com/Torqvoice/torqvoice-sub001/internal/billingrun"
	"github.com/Torqvoice/torqvoice-sub001/internal/config"
	invoicedomain "github.com/Torqvoice/torqvoice-sub001/internal/invoice/domain"
	"github.com/Torqvoice/torqvoice-sub001/internal/observability"
	obslogger "github.com/Torqvoice/torqvoice-sub001/internal/observability/logger"
	paymentdomain "github.com/Torqvoice/torqvoice-sub001/internal/payment/domain"
	settingsdomain "github.com/Torqvoice/torqvoice-sub001/internal/settings/domain"
	vehicledomain "github.com/Torqvoice/torqvoice-sub001/internal/vehicle/domain"
	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(func(s *Server) {
		s.RegisterRoutes()
	}),
	fx.Invoke(RunHTTP),
)

func NewEngine(obsCfg observability.Config, log *zap.Logger) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		Log:             log.Named("http"),
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func RunHTTP(lc fx.Lifecycle, cfg config.Config, r *gin.Engine) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine *gin.Engine
	cfg    config.Config
	db     *gorm.DB
	log    *zap.Logger
	genID  *snowflake.Node

	authzSvc     authorization.Service
	auditSvc     auditdomain.Service
	vehicleSvc   vehicledomain.Service
	agreementSvc agreementdomain.Service
	invoiceSvc   invoicedomain.Service
	paymentSvc   paymentdomain.Service
	settingsSvc  settingsdomain.Service
	processor    *billingrun.Processor
}

type ServerParams struct {
	fx.In

	Gin   *gin.Engine
	Cfg   config.Config
	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node

	AuthzSvc     authorization.Service
	AuditSvc     auditdomain.Service
	VehicleSvc   vehicledomain.Service
	AgreementSvc agreementdomain.Service
	InvoiceSvc   invoicedomain.Service
	PaymentSvc   paymentdomain.Service
	SettingsSvc  settingsdomain.Service
	Processor    *billingrun.Processor
}

func NewServer(p ServerParams) *Server {
	return &Server{
		engine:       p.Gin,
		cfg:          p.Cfg,
		db:           p.DB,
		log:          p.Log.Named("server"),
		genID:        p.GenID,
		authzSvc:     p.AuthzSvc,
		auditSvc:     p.AuditSvc,
		vehicleSvc:   p.VehicleSvc,
		agreementSvc: p.AgreementSvc,
		invoiceSvc:   p.InvoiceSvc,
		paymentSvc:   p.PaymentSvc,
		settingsSvc:  p.SettingsSvc,
		processor:    p.Processor,
	}
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) RegisterRoutes() {
	v1 := s.engine.Group("/v1")
	v1.Use(s.OrgContext())

	// -------- Vehicles --------
	v1.GET("/vehicles", s.authorizeOrgAction(authorization.ObjectVehicle, authorization.ActionVehicleView), s.ListVehicles)
	v1.POST("/vehicles", s.authorizeOrgAction(authorization.ObjectVehicle, authorization.ActionVehicleCreate), s.CreateVehicle)
	v1.GET("/vehicles/:id", s.authorizeOrgAction(authorization.ObjectVehicle, authorization.ActionVehicleView), s.GetVehicleByID)

	// -------- Agreements --------
	v1.GET("/agreements", s.authorizeOrgAction(authorization.ObjectAgreement, authorization.ActionAgreementView), s.ListAgreements)
	v1.POST("/agreements", s.authorizeOrgAction(authorization.ObjectAgreement, authorization.ActionAgreementCreate), s.CreateAgreement)
	v1.GET("/agreements/:id", s.authorizeOrgAction(authorization.ObjectAgreement, authorization.ActionAgreementView), s.GetAgreementByID)
	v1.PUT("/agreements/:id", s.authorizeOrgAction(authorization.ObjectAgreement, authorization.ActionAgreementUpdate), s.UpdateAgreement)
	v1.DELETE("/agreements/:id", s.authorizeOrgAction(authorization.ObjectAgreement, authorization.ActionAgreementDelete), s.DeleteAgreement)
	v1.POST("/agreements/:id/pause", s.authorizeOrgAction(authorization.ObjectAgreement, authorization.ActionAgreementToggle), s.PauseAgreement)
	v1.POST("/agreements/:id/activate", s.authorizeOrgAction(authorization.ObjectAgreement, authorization.ActionAgreementToggle), s.ActivateAgreement)

	// -------- Invoices --------
	v1.GET("/invoices", s.authorizeOrgAction(authorization.ObjectInvoice, authorization.ActionInvoiceView), s.ListInvoices)
	v1.POST("/invoices", s.authorizeOrgAction(authorization.ObjectInvoice, authorization.ActionInvoiceCreate), s.CreateInvoice)
	v1.GET("/invoices/:id", s.authorizeOrgAction(authorization.ObjectInvoice, authorization.ActionInvoiceView), s.GetInvoiceByID)

	// -------- Payments --------
	v1.GET("/invoices/:id/ledger", s.authorizeOrgAction(authorization.ObjectPayment, authorization.ActionPaymentView), s.GetInvoiceLedger)
	v1.POST("/invoices/:id/payments", s.authorizeOrgAction(authorization.ObjectPayment, authorization.ActionPaymentRecord), s.RecordPayment)
	v1.DELETE("/payments/:id", s.authorizeOrgAction(authorization.ObjectPayment, authorization.ActionPaymentDelete), s.DeletePayment)

	// -------- Billing run --------
	v1.POST("/billing/run", s.authorizeOrgAction(authorization.ObjectBillingRun, authorization.ActionBillingRunTrigger), s.TriggerBillingRun)

	// -------- Settings --------
	v1.GET("/settings/:key", s.authorizeOrgAction(authorization.ObjectSetting, authorization.ActionSettingView), s.GetSetting)
	v1.PUT("/settings/:key", s.authorizeOrgAction(authorization.ObjectSetting, authorization.ActionSettingUpdate), s.PutSetting)
	v1.DELETE("/settings/:key", s.authorizeOrgAction(authorization.ObjectSetting, authorization.ActionSettingUpdate), s.DeleteSetting)

	// -------- Audit logs --------
	v1.GET("/audit-logs", s.authorizeOrgAction(authorization.ObjectAuditLog, authorization.ActionAuditLogView), s.ListAuditLogs)
}
