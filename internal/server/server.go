package server

import (
	"fmt"

	"github.com/DominicWuest/bisector/pkg/bisector"
)

type ServerType int

const (
	HTTP ServerType = iota
)

type Server interface {
	Init(int, chan bisector.Result) error
}

func NewServer(serverType ServerType, port int, results chan bisector.Result) (Server, error) {
	switch serverType {
	case HTTP:
		server := &httpServer{}
		return server, server.Init(port, results)
	}
	return nil, fmt.Errorf("%d is not a valid server type", serverType)
}
