package main

import (
	"github.com/galdor/go-service/pkg/service"
)

func main() {
	service.Run("raftsim", "a raft leader election simulator", NewService())
}
