package main

import (
	"encoding/json"

	"github.com/galdor/go-raftsim/pkg/raftsim"
	"github.com/galdor/go-service/pkg/shttp"
)

// APIServer exposes the control surface driven by the visualizer: fault
// injection, partitions and the snapshot/event feeds. It never touches node
// internals; everything goes through the cluster.
type APIServer struct {
	Service *Service
}

type NodeControlRequest struct {
	Id raftsim.NodeId `json:"id"`
}

type PartitionRequest struct {
	GroupA []raftsim.NodeId `json:"groupA"`
	GroupB []raftsim.NodeId `json:"groupB"`
}

func NewAPIServer(s *Service) (*APIServer, error) {
	api := APIServer{
		Service: s,
	}

	return &api, nil
}

func (api *APIServer) Init() error {
	api.initRoutes()
	return nil
}

func (api *APIServer) initRoutes() {
	api.Route("/cluster", "GET", api.hClusterGET)
	api.Route("/events", "GET", api.hEventsGET)
	api.Route("/nodes/fail", "POST", api.hNodesFailPOST)
	api.Route("/nodes/restore", "POST", api.hNodesRestorePOST)
	api.Route("/partition", "POST", api.hPartitionPOST)
	api.Route("/heal", "POST", api.hHealPOST)
}

func (api *APIServer) Route(pathPattern, method string, routeFunc shttp.RouteFunc) {
	s := api.Service.Service.HTTPServer("api")
	s.Route(pathPattern, method, routeFunc)
}

func (api *APIServer) hClusterGET(h *shttp.Handler) {
	h.ReplyJSON(200, api.Service.cluster.Snapshot())
}

func (api *APIServer) hEventsGET(h *shttp.Handler) {
	events := api.Service.events.Drain()
	if events == nil {
		events = []Event{}
	}

	h.ReplyJSON(200, events)
}

func (api *APIServer) hNodesFailPOST(h *shttp.Handler) {
	api.setAlive(h, false)
}

func (api *APIServer) hNodesRestorePOST(h *shttp.Handler) {
	api.setAlive(h, true)
}

func (api *APIServer) setAlive(h *shttp.Handler, alive bool) {
	var req NodeControlRequest
	if err := api.readRequest(h, &req); err != nil {
		return
	}

	if err := api.Service.cluster.SetAlive(req.Id, alive); err != nil {
		h.ReplyError(400, "invalidRequest", "%v", err)
		return
	}

	h.ReplyEmpty(204)
}

func (api *APIServer) hPartitionPOST(h *shttp.Handler) {
	var req PartitionRequest
	if err := api.readRequest(h, &req); err != nil {
		return
	}

	if err := api.Service.cluster.Partition(req.GroupA, req.GroupB); err != nil {
		h.ReplyError(400, "invalidRequest", "%v", err)
		return
	}

	h.ReplyEmpty(204)
}

func (api *APIServer) hHealPOST(h *shttp.Handler) {
	api.Service.cluster.Heal()

	h.ReplyEmpty(204)
}

func (api *APIServer) readRequest(h *shttp.Handler, dest interface{}) error {
	d := json.NewDecoder(h.Request.Body)

	if err := d.Decode(dest); err != nil {
		h.ReplyError(400, "invalidRequestBody", "invalid request body: %v", err)
		return err
	}

	return nil
}
