package server

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/DominicWuest/bisector/pkg/bisector"
	"github.com/gin-gonic/gin"
)

type httpServer struct {
	results chan bisector.Result

	mu        sync.Mutex
	resMap    map[string]bisector.Result
	resOrder  []string
	exhausted bool
}

func (h *httpServer) Init(port int, results chan bisector.Result) error {
	h.init(results)

	go h.router().Run(fmt.Sprintf("localhost:%d", port))
	return nil
}

func (h *httpServer) init(results chan bisector.Result) {
	h.results = results
	h.resMap = make(map[string]bisector.Result)
}

func (h *httpServer) router() *gin.Engine {
	router := gin.Default()

	router.GET("/result", h.getResult)
	router.GET("/results", h.getResults)
	router.GET("/results/:resultId", h.getResultById)

	return router
}

type divergenceResponse struct {
	Index int `json:"index"`

	WindowStart int `json:"windowStart"`
	WindowEnd   int `json:"windowEnd"`

	Reference string `json:"reference"`
	Candidate string `json:"candidate"`

	ReferenceOracle string `json:"referenceOracle"`
	CandidateOracle string `json:"candidateOracle"`

	Invocations int  `json:"invocations"`
	Flaky       bool `json:"flaky"`
}

type resultResponse struct {
	ResultId string `json:"resultId"`

	BisectionIndex int    `json:"bisectionIndex"`
	Name           string `json:"name"`

	Divergence *divergenceResponse `json:"divergence,omitempty"`

	ReportPath string `json:"reportPath,omitempty"`
	Error      string `json:"error,omitempty"`
}

func newResultResponse(res bisector.Result) resultResponse {
	resp := resultResponse{
		ResultId: res.ID,

		BisectionIndex: res.BisectionIndex,
		Name:           res.Name,

		ReportPath: res.ReportPath,
	}
	if res.Err != nil {
		resp.Error = res.Err.Error()
	}
	if d := res.Divergence; d != nil {
		resp.Divergence = &divergenceResponse{
			Index: d.Index,

			WindowStart: d.WindowStart,
			WindowEnd:   d.WindowEnd,

			Reference: d.Reference,
			Candidate: d.Candidate,

			ReferenceOracle: d.ReferenceOracle,
			CandidateOracle: d.CandidateOracle,

			Invocations: d.Invocations,
			Flaky:       d.Flaky,
		}
	}
	return resp
}

// getResult waits for the next finished bisection
func (h *httpServer) getResult(c *gin.Context) {
	select {
	case res, ok := <-h.results:
		if !ok {
			h.mu.Lock()
			h.exhausted = true
			h.mu.Unlock()
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		h.mu.Lock()
		h.resMap[res.ID] = res
		h.resOrder = append(h.resOrder, res.ID)
		h.mu.Unlock()
		c.JSON(http.StatusOK, newResultResponse(res))
	case <-c.Request.Context().Done():
		c.AbortWithStatus(http.StatusRequestTimeout)
	}
}

func (h *httpServer) getResults(c *gin.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()

	results := make([]resultResponse, 0, len(h.resOrder))
	for _, id := range h.resOrder {
		results = append(results, newResultResponse(h.resMap[id]))
	}
	c.JSON(http.StatusOK, gin.H{
		"done":    h.exhausted,
		"results": results,
	})
}

func (h *httpServer) getResultById(c *gin.Context) {
	id := c.Param("resultId")

	h.mu.Lock()
	res, found := h.resMap[id]
	h.mu.Unlock()

	if found {
		c.JSON(http.StatusOK, newResultResponse(res))
	} else {
		c.AbortWithStatus(http.StatusNotFound)
	}
}
