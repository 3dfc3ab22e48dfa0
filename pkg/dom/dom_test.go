package dom

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/domotruc/jmqtt-test/pkg/model"
)

const page = `<html>
<body>
<div class="eqLogicThumbnailContainer">
  <div class="eqLogicDisplayCard cursor" data-eqlogic_id="7" data-brkid="1"><center><strong>lamp10</strong></center></div>
  <div class="eqLogicDisplayCard cursor auto" data-eqlogic_id="1" data-brkid="1" data-state="pok"><center><strong>host</strong></center></div>
  <div class="eqLogicDisplayCard cursor auto" data-eqlogic_id="8" data-brkid="1"><center><strong>lamp9</strong></center></div>
  <div class="eqLogicDisplayCard cursor autox" data-eqlogic_id="2" data-brkid="2" data-state="ok"><center><strong>other</strong></center></div>
</div>
<table id="table_cmd">
  <tbody>
    <tr class="cmd"><td><input data-l1key="name" value="status"/></td></tr>
    <tr class="cmd"><td><input data-l1key="name" value="api"/></td></tr>
  </tbody>
</table>
</body>
</html>`

func TestCards(t *testing.T) {
	p, err := ParsePage([]byte(page))
	require.NoError(t, err)

	cards, err := NewAdapter(p).Cards(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, []model.Card{
		{Name: "host", AutoAddCmd: true, State: model.DaemonPOK},
		{Name: "lamp9", AutoAddCmd: true},
		{Name: "lamp10"},
	}, cards)

	all, err := NewAdapter(p).Cards(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, model.Card{Name: "other", State: model.DaemonOK}, all[1], "autox is not the auto class")
}

func TestCommandNames(t *testing.T) {
	p, err := ParsePage([]byte(page))
	require.NoError(t, err)

	names, err := NewAdapter(p).CommandNames(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"status", "api"}, names)
}

func TestSourcePageRefetches(t *testing.T) {
	calls := 0
	p := NewSourcePage(func(context.Context) ([]byte, error) {
		calls++
		return []byte(page), nil
	})
	a := NewAdapter(p)
	_, err := a.Cards(context.Background(), "2")
	require.NoError(t, err)
	_, err = a.CommandNames(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, calls)

	failing := NewSourcePage(func(context.Context) ([]byte, error) {
		return nil, errors.New("session closed")
	})
	_, err = NewAdapter(failing).Cards(context.Background(), "")
	assert.ErrorContains(t, err, "session closed")
}

func TestInvalidXPath(t *testing.T) {
	p, err := ParsePage([]byte(page))
	require.NoError(t, err)
	_, err = p.FindAll(context.Background(), "//div[")
	assert.ErrorContains(t, err, "invalid xpath")
}

func TestCardWithoutName(t *testing.T) {
	p, err := ParsePage([]byte(`<html><div class="eqLogicDisplayCard" data-eqlogic_id="4" data-brkid="1"></div></html>`))
	require.NoError(t, err)
	_, err = NewAdapter(p).Cards(context.Background(), "")
	assert.ErrorContains(t, err, "card 4")
}

func TestHTTPPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("m") != "jMQTT" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(page))
	}))
	defer srv.Close()

	names, err := NewAdapter(NewHTTPPage(nil, srv.URL+"/index.php?m=jMQTT")).CommandNames(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"status", "api"}, names)

	_, err = NewHTTPPage(srv.Client(), srv.URL+"/index.php").FindAll(context.Background(), "//div")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}
