package tfs

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/softwareforge/forge/internal/logging"
	"go.uber.org/zap"
)

const (
	soapEnvelopeNS = "http://schemas.xmlsoap.org/soap/envelope/"
	webServicesNS  = "http://microsoft.com/webservices/"

	// CollectionServicePath is the administration endpoint, relative to
	// the configuration server URL.
	CollectionServicePath = "/TeamFoundation/Administration/v3.0/TeamProjectCollectionService.asmx"

	maxSOAPResponse = 4 << 20
)

// SOAPServicer queues collection servicing jobs through the
// TeamProjectCollectionService administration web service.
type SOAPServicer struct {
	endpoint string
	creds    Credentials
	client   *http.Client
	logger   *zap.Logger
}

// NewSOAPServicer creates a servicer for the configuration server at
// serverURL.
func NewSOAPServicer(serverURL string, creds Credentials, timeout time.Duration, logger *zap.Logger) *SOAPServicer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SOAPServicer{
		endpoint: strings.TrimRight(serverURL, "/") + CollectionServicePath,
		creds:    creds,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

type keyValue struct {
	Key   string `xml:"Key"`
	Value string `xml:"Value"`
}

type tokenList struct {
	Items []keyValue `xml:"KeyValueOfStringString"`
}

func newTokenList(tokens map[string]string) tokenList {
	keys := make([]string, 0, len(tokens))
	for k := range tokens {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	list := tokenList{Items: make([]keyValue, 0, len(keys))}
	for _, k := range keys {
		list.Items = append(list.Items, keyValue{Key: k, Value: tokens[k]})
	}
	return list
}

type queueCreateCollection struct {
	XMLName          xml.Name  `xml:"http://microsoft.com/webservices/ QueueCreateCollection"`
	Name             string    `xml:"name"`
	Description      string    `xml:"description"`
	IsDefault        bool      `xml:"isDefault"`
	VirtualDirectory string    `xml:"virtualDirectory"`
	State            string    `xml:"state"`
	ServicingTokens  tokenList `xml:"servicingTokens"`
}

type queueDetachCollection struct {
	XMLName                  xml.Name  `xml:"http://microsoft.com/webservices/ QueueDetachCollection"`
	CollectionID             string    `xml:"collectionId"`
	ServicingTokens          tokenList `xml:"servicingTokens"`
	CollectionStoppedMessage string    `xml:"collectionStoppedMessage"`
}

type getServicingJobDetails struct {
	XMLName xml.Name `xml:"http://microsoft.com/webservices/ GetServicingJobDetails"`
	HostID  string   `xml:"hostId"`
	JobID   string   `xml:"jobId"`
}

type requestEnvelope struct {
	XMLName xml.Name `xml:"soap:Envelope"`
	SoapNS  string   `xml:"xmlns:soap,attr"`
	Body    struct {
		Content interface{}
	} `xml:"soap:Body"`
}

type soapFault struct {
	Code   string `xml:"faultcode"`
	String string `xml:"faultstring"`
}

type responseEnvelope struct {
	Body struct {
		Fault *soapFault `xml:"Fault"`
		Inner []byte     `xml:",innerxml"`
	} `xml:"Body"`
}

// jobDetail is a ServicingJobDetail as the service returns it.
type jobDetail struct {
	JobID     string   `xml:"JobId"`
	HostID    string   `xml:"HostId"`
	JobStatus string   `xml:"JobStatus"`
	Result    string   `xml:"Result"`
	Messages  []string `xml:"Messages>string"`
}

type jobResponse struct {
	Result jobDetail `xml:",any"`
}

// FaultError is a SOAP fault raised by the service.
type FaultError struct {
	Action string
	Code   string
	Reason string
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("%s: soap fault %s: %s", e.Action, e.Code, e.Reason)
}

// Unwrap makes faults match ErrServicingFailed.
func (e *FaultError) Unwrap() error { return ErrServicingFailed }

func (s *SOAPServicer) QueueCreateCollection(ctx context.Context, req CreateCollectionRequest) (*ServicingJob, error) {
	return s.job(ctx, "QueueCreateCollection", queueCreateCollection{
		Name:             req.Name,
		Description:      req.Description,
		IsDefault:        req.IsDefault,
		VirtualDirectory: req.VirtualDirectory,
		State:            req.State,
		ServicingTokens:  newTokenList(req.ServicingTokens),
	})
}

func (s *SOAPServicer) QueueDetachCollection(ctx context.Context, req DetachCollectionRequest) (*ServicingJob, error) {
	return s.job(ctx, "QueueDetachCollection", queueDetachCollection{
		CollectionID:             req.CollectionID.String(),
		ServicingTokens:          newTokenList(req.ServicingTokens),
		CollectionStoppedMessage: req.StoppedMessage,
	})
}

func (s *SOAPServicer) GetServicingJob(ctx context.Context, collectionID, jobID uuid.UUID) (*ServicingJob, error) {
	return s.job(ctx, "GetServicingJobDetails", getServicingJobDetails{
		HostID: collectionID.String(),
		JobID:  jobID.String(),
	})
}

func (s *SOAPServicer) job(ctx context.Context, action string, body interface{}) (*ServicingJob, error) {
	inner, err := s.do(ctx, action, body)
	if err != nil {
		return nil, err
	}
	var resp jobResponse
	if err := xml.Unmarshal(inner, &resp); err != nil {
		return nil, fmt.Errorf("%s: decoding response: %w", action, err)
	}
	return resp.Result.toJob(action)
}

func (d jobDetail) toJob(action string) (*ServicingJob, error) {
	jobID, err := uuid.Parse(d.JobID)
	if err != nil {
		return nil, fmt.Errorf("%s: bad job id %q: %w", action, d.JobID, err)
	}
	hostID, err := uuid.Parse(d.HostID)
	if err != nil {
		return nil, fmt.Errorf("%s: bad host id %q: %w", action, d.HostID, err)
	}
	return &ServicingJob{
		ID:           jobID,
		CollectionID: hostID,
		Status:       d.JobStatus,
		Result:       d.Result,
		Message:      strings.Join(d.Messages, "; "),
	}, nil
}

// do posts one SOAP call and returns the inner XML of the response body.
func (s *SOAPServicer) do(ctx context.Context, action string, body interface{}) ([]byte, error) {
	env := requestEnvelope{SoapNS: soapEnvelopeNS}
	env.Body.Content = body
	payload, err := xml.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("%s: encoding request: %w", action, err)
	}
	payload = append([]byte(xml.Header), payload...)

	header, err := s.creds.AuthorizationHeader(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set("SOAPAction", `"`+webServicesNS+action+`"`)
	req.Header.Set("Authorization", header)
	if id := logging.RequestIDFromContext(ctx); id != "" {
		req.Header.Set("X-Request-ID", id)
	}

	s.logger.Log(logging.TraceLevel, "soap request", zap.String("action", action), zap.ByteString("envelope", payload))

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", action, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxSOAPResponse))
	if err != nil {
		return nil, fmt.Errorf("%s: reading response: %w", action, err)
	}
	s.logger.Log(logging.TraceLevel, "soap response",
		zap.String("action", action),
		zap.Int("status", resp.StatusCode),
		zap.ByteString("envelope", raw))

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, fmt.Errorf("%w: %s returned 401", ErrUnauthorized, action)
	}

	var respEnv responseEnvelope
	if err := xml.Unmarshal(raw, &respEnv); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("%s: unexpected status %d", action, resp.StatusCode)
		}
		return nil, fmt.Errorf("%s: decoding envelope: %w", action, err)
	}
	if f := respEnv.Body.Fault; f != nil {
		return nil, &FaultError{Action: action, Code: f.Code, Reason: f.String}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: unexpected status %d", action, resp.StatusCode)
	}
	return respEnv.Body.Inner, nil
}
