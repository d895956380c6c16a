// Package patients provides the patient directory consumed by the consent
// picker, and a mock directory service for demo deployments. A production
// deployment points the picker at a real fine-grained authorization service
// returning the same shape.
package patients

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// Patient is a directory entry as displayed in the picker.
type Patient struct {
	ID   string `json:"patient_id"`
	Name string `json:"patient_name"`
}

// Directory lists the patients the current user may select.
type Directory interface {
	List(ctx context.Context) ([]Patient, error)
}

// HTTPDirectory fetches the patient list from a directory service endpoint.
type HTTPDirectory struct {
	endpoint   string
	httpClient *http.Client
}

func NewHTTPDirectory(endpoint string) *HTTPDirectory {
	return &HTTPDirectory{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (d *HTTPDirectory) List(ctx context.Context) ([]Patient, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, d.endpoint, nil)
	if err != nil {
		return nil, err
	}
	response, err := d.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("call patient directory: %w", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("patient directory returned status %d", response.StatusCode)
	}
	var result []Patient
	if err := json.NewDecoder(response.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("parse patient directory response: %w", err)
	}
	return result, nil
}

// MockService serves a static sample patient list.
type MockService struct{}

func NewMockService() *MockService {
	return &MockService{}
}

func (s *MockService) RegisterHandlers(mux *http.ServeMux) {
	mux.HandleFunc("GET /patientMockService", s.handleList)
}

var samplePatients = []Patient{
	{ID: "3758", Name: "Abraham Murphy (32)"},
	{ID: "35128", Name: "Carlos Stehr (54)"},
	{ID: "5050", Name: "Albert Walter (Deceased)"},
}

func (s *MockService) handleList(response http.ResponseWriter, request *http.Request) {
	log.Debug().Msg("Serving sample patient list")
	response.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(response).Encode(samplePatients); err != nil {
		log.Warn().Err(err).Msg("Failed to write patient list response")
	}
}
