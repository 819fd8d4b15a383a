package hss

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const regDataXML = `<?xml version="1.0" encoding="UTF-8"?>
<ClearwaterRegData>
  <RegistrationState>REGISTERED</RegistrationState>
  <IMSSubscription>
    <ServiceProfile>
      <PublicIdentity><Identity>sip:alice@example.com</Identity></PublicIdentity>
      <InitialFilterCriteria>
        <Priority>1</Priority>
        <TriggerPoint>
          <ConditionTypeCNF>0</ConditionTypeCNF>
          <SPT><ConditionNegated>0</ConditionNegated><Group>0</Group><Method>INVITE</Method></SPT>
        </TriggerPoint>
        <ApplicationServer><ServerName>sip:as1.example.com</ServerName><DefaultHandling>0</DefaultHandling></ApplicationServer>
      </InitialFilterCriteria>
    </ServiceProfile>
  </IMSSubscription>
</ClearwaterRegData>`

func TestGetRegistrationData(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/xml")
		io.WriteString(w, regDataXML)
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL)
	data, err := client.GetRegistrationData(context.Background(), "sip:alice@example.com")
	if err != nil {
		t.Fatalf("GetRegistrationData() error = %v", err)
	}

	if !strings.Contains(gotPath, "impu") || !strings.Contains(gotPath, "reg-data") {
		t.Errorf("request path = %q, want it to contain impu/.../reg-data", gotPath)
	}
	if data.RegState != "REGISTERED" {
		t.Errorf("RegState = %q, want REGISTERED", data.RegState)
	}
	if _, ok := data.IfcsByPublicID["sip:alice@example.com"]; !ok {
		t.Error("expected rules for sip:alice@example.com")
	}
}

func TestGetRegistrationDataNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL)
	_, err := client.GetRegistrationData(context.Background(), "sip:nobody@example.com")
	if err != ErrNotFound {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestUpdateRegistrationState(t *testing.T) {
	var gotMethod, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		io.WriteString(w, regDataXML)
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL)
	_, err := client.UpdateRegistrationState(context.Background(), "sip:alice@example.com", "alice_private@example.com", RequestTypeCall)
	if err != nil {
		t.Fatalf("UpdateRegistrationState() error = %v", err)
	}
	if gotMethod != http.MethodPut {
		t.Errorf("method = %q, want PUT", gotMethod)
	}
	if !strings.Contains(gotBody, `"reqtype":"CALL"`) {
		t.Errorf("body = %q, want reqtype CALL", gotBody)
	}
}

func TestGetRegistrationDataServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL)
	_, err := client.GetRegistrationData(context.Background(), "sip:alice@example.com")
	if err == nil {
		t.Fatal("expected an error for a 500 response")
	}
}
