package main

import (
	"fmt"
	"time"

	jsonvalidator "github.com/galdor/go-json-validator"
	"github.com/galdor/go-log"
	"github.com/galdor/go-program"
	"github.com/galdor/go-raftsim/pkg/raftsim"
	"github.com/galdor/go-service/pkg/service"
	"github.com/galdor/go-service/pkg/shttp"
)

type ServiceCfg struct {
	Service service.ServiceCfg `json:"service"`
	Cluster ClusterCfg         `json:"cluster"`
}

type ClusterCfg struct {
	Nodes int `json:"nodes"`

	APIAddress string `json:"apiAddress"`

	MinElectionTimeoutMs int `json:"minElectionTimeoutMs"`
	MaxElectionTimeoutMs int `json:"maxElectionTimeoutMs"`
	HeartbeatIntervalMs  int `json:"heartbeatIntervalMs"`
}

type Service struct {
	Cfg     ServiceCfg
	Program *program.Program
	Service *service.Service
	Log     *log.Logger

	cluster      *raftsim.Cluster
	events       *EventBuffer
	subscription raftsim.SubscriptionId
	apiServer    *APIServer
}

func (cfg *ServiceCfg) ValidateJSON(v *jsonvalidator.Validator) {
	v.CheckObject("service", &cfg.Service)

	v.CheckObject("cluster", &cfg.Cluster)
}

func (cfg *ClusterCfg) ValidateJSON(v *jsonvalidator.Validator) {
	v.CheckIntMin("nodes", cfg.Nodes, 0)

	v.CheckIntMin("minElectionTimeoutMs", cfg.MinElectionTimeoutMs, 0)
	v.CheckIntMin("maxElectionTimeoutMs", cfg.MaxElectionTimeoutMs, 0)
	v.CheckIntMin("heartbeatIntervalMs", cfg.HeartbeatIntervalMs, 0)
}

func NewService() *Service {
	return &Service{}
}

func (s *Service) InitProgram(p *program.Program) {
	s.Program = p
}

func (s *Service) DefaultCfg() interface{} {
	return &s.Cfg
}

func (s *Service) ValidateCfg() error {
	return nil
}

func (s *Service) ServiceCfg() *service.ServiceCfg {
	cfg := &s.Cfg.Service

	if cfg.HTTPServers == nil {
		cfg.HTTPServers = make(map[string]*shttp.ServerCfg)
	}

	address := s.Cfg.Cluster.APIAddress
	if address == "" {
		address = "localhost:8080"
	}

	cfg.HTTPServers["api"] = &shttp.ServerCfg{
		Address:               address,
		LogSuccessfulRequests: true,
		ErrorHandler:          shttp.JSONErrorHandler,
	}

	return cfg
}

func (s *Service) Init(ss *service.Service) error {
	s.Service = ss
	s.Log = ss.Log

	s.events = NewEventBuffer(1024)

	if err := s.initCluster(); err != nil {
		return err
	}

	if err := s.initAPIServer(); err != nil {
		return err
	}

	return nil
}

func (s *Service) initCluster() error {
	cfg := s.Cfg.Cluster

	nbNodes := cfg.Nodes
	if nbNodes == 0 {
		nbNodes = 5
	}

	logger := s.Log.Child("cluster", log.Data{})

	clusterCfg := raftsim.ClusterCfg{
		Nodes: nbNodes,

		Logger: logger,

		MinElectionTimeout: msDuration(cfg.MinElectionTimeoutMs),
		MaxElectionTimeout: msDuration(cfg.MaxElectionTimeoutMs),
		HeartbeatInterval:  msDuration(cfg.HeartbeatIntervalMs),
	}

	cluster, err := raftsim.NewCluster(clusterCfg)
	if err != nil {
		return fmt.Errorf("cannot create cluster: %w", err)
	}

	s.cluster = cluster

	return nil
}

func (s *Service) initAPIServer() error {
	api, err := NewAPIServer(s)
	if err != nil {
		return fmt.Errorf("cannot create api server: %w", err)
	}

	s.apiServer = api

	return nil
}

func (s *Service) Start(ss *service.Service) error {
	s.subscription = s.cluster.Subscribe(s.events)

	if err := s.cluster.Start(ss.ErrorChan()); err != nil {
		return fmt.Errorf("cannot start cluster: %w", err)
	}

	if err := s.apiServer.Init(); err != nil {
		return fmt.Errorf("cannot initialize api server: %w", err)
	}

	return nil
}

func (s *Service) Stop(ss *service.Service) {
	s.cluster.Unsubscribe(s.subscription)
	s.cluster.Stop()
}

func (s *Service) Terminate(ss *service.Service) {
}

func msDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
