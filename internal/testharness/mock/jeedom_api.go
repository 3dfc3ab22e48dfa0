package mock

import (
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/domotruc/jmqtt-test/pkg/channel"
	"github.com/domotruc/jmqtt-test/pkg/jsonrpc"
	"github.com/domotruc/jmqtt-test/pkg/model"
)

// JSON-RPC error codes returned by the fake plugin.
const (
	CodeUnauthorized   = -32001
	CodeMethodNotFound = -32601
	CodeEqNotFound     = -32602
	CodeCmdNotFound    = -32702
	CodeExecFailed     = -32000
)

// NoObject is the object name Jeedom shows for equipment without object.
const NoObject = "Aucun"

// Log files listed by log::list.
var logFiles = []string{"http.error", "jMQTT", "jMQTT_dep", "jMQTTd", "scenario"}

// Handler returns the HTTP handler of the JSON-RPC API and of the plugin
// page.
func (j *Jeedom) Handler() http.Handler {
	r := chi.NewRouter()
	r.Post("/"+jsonrpc.Endpoint, j.handleRPC)
	r.Get("/index.php", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(j.RenderPage())
	})
	return r
}

func (j *Jeedom) handleRPC(w http.ResponseWriter, r *http.Request) {
	var req jsonrpc.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	resp := jsonrpc.Response{JSONRPC: jsonrpc.Version, ID: json.RawMessage(strconv.Quote(req.ID))}
	if key, _ := req.Params["apikey"].(string); j.cfg.APIKey != "" && key != j.cfg.APIKey {
		resp.Error = &jsonrpc.ErrorObject{Code: CodeUnauthorized, Message: "Vous n'êtes pas autorisé à effectuer cette action"}
	} else {
		delete(req.Params, "apikey")
		resp.Result, resp.Error = j.call(req.Method, req.Params)
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// answer handles an API request received on MQTT and publishes the
// response on the topic it names.
func (j *Jeedom) answer(d *daemon, payload []byte) {
	var req jsonrpc.Request
	if err := json.Unmarshal(payload, &req); err != nil {
		j.logger.Warn("invalid api request", "error", err)
		return
	}
	if req.Topic == "" {
		j.logger.Warn("api request without response topic", "method", req.Method)
		return
	}
	resp := jsonrpc.Response{JSONRPC: jsonrpc.Version, ID: json.RawMessage(strconv.Quote(req.ID))}
	resp.Result, resp.Error = j.call(req.Method, req.Params)
	out, err := json.Marshal(resp)
	if err != nil {
		j.logger.Error("encode api response", "error", err)
		return
	}
	if err := d.publish(req.Topic, out, false); err != nil {
		j.logger.Warn("publish api response", "error", err)
	}
}

func (j *Jeedom) call(method string, params map[string]any) (json.RawMessage, *jsonrpc.ErrorObject) {
	result, e := j.dispatch(method, params)
	if e != nil {
		return nil, e
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, &jsonrpc.ErrorObject{Code: CodeExecFailed, Message: err.Error()}
	}
	return raw, nil
}

func (j *Jeedom) dispatch(method string, params map[string]any) (any, *jsonrpc.ErrorObject) {
	switch method {
	case "ping":
		return "pong", nil
	case "version":
		return j.cfg.Version, nil
	case "object::all", "jeeObject::all":
		if method != j.version.APIMethod("object::all") {
			break
		}
		j.mu.Lock()
		defer j.mu.Unlock()
		return slices.Clone(j.objects), nil
	case "eqLogic::byType":
		if param(params, "type") != channel.PluginType {
			return []model.Doc{}, nil
		}
		j.mu.Lock()
		defer j.mu.Unlock()
		docs := make([]model.Doc, 0, len(j.eqpts))
		for _, e := range j.eqpts {
			docs = append(docs, j.eqDoc(e))
		}
		return docs, nil
	case "eqLogic::byId":
		j.mu.Lock()
		defer j.mu.Unlock()
		e := j.byID(param(params, "id"))
		if e == nil {
			return nil, &jsonrpc.ErrorObject{Code: CodeEqNotFound, Message: "EqLogic introuvable : " + param(params, "id")}
		}
		return j.eqDoc(e), nil
	case "cmd::byEqLogicId":
		j.mu.Lock()
		defer j.mu.Unlock()
		docs := []model.Doc{}
		if e := j.byID(param(params, "eqLogic_id")); e != nil {
			for _, c := range e.Cmds {
				docs = append(docs, cmdDoc(c))
			}
		}
		return docs, nil
	case "cmd::execCmd":
		return j.execCmd(param(params, "id"), params["options"])
	case "log::list":
		filter := param(params, "filtre")
		files := []string{}
		for _, f := range logFiles {
			if strings.Contains(f, filter) {
				files = append(files, f)
			}
		}
		return files, nil
	case "jMQTT::removeAllEqpts":
		j.RemoveAllEquipments()
		return "ok", nil
	}
	return nil, &jsonrpc.ErrorObject{Code: CodeMethodNotFound, Message: "Aucune méthode correspondante : " + method}
}

// execCmd returns the value of an info command, or publishes the request
// of an action command with its options substituted.
func (j *Jeedom) execCmd(id string, options any) (any, *jsonrpc.ErrorObject) {
	j.mu.Lock()
	e, c := j.cmdByID(id)
	if c == nil {
		j.mu.Unlock()
		return nil, &jsonrpc.ErrorObject{Code: CodeCmdNotFound, Message: "Cmd introuvable : " + id}
	}
	if c.Type == model.CmdInfo {
		v := c.CurrentValue.Interface()
		j.mu.Unlock()
		return map[string]any{"value": v, "collectDate": ""}, nil
	}
	opts, _ := options.(map[string]any)
	payload := j.expandRefs(substitute(*c.Configuration.Request, opts))
	retain := *c.Configuration.Retain == "1"
	t := c.Configuration.Topic
	if v, ok := opts["slider"]; ok && c.SubType == model.SubTypeSlider {
		c.CurrentValue = model.NormalizeValue(v)
	}
	now := j.cfg.Now()
	e.lastComm = now
	if b := j.byID(e.Configuration.BrkID); b != nil {
		b.lastComm = now
	}
	d := j.daemons[e.Configuration.BrkID]
	j.mu.Unlock()

	if err := d.publish(t, []byte(payload), retain); err != nil {
		return nil, &jsonrpc.ErrorObject{Code: CodeExecFailed, Message: err.Error()}
	}
	return map[string]any{"value": "", "collectDate": ""}, nil
}

func substitute(request string, opts map[string]any) string {
	for _, k := range []string{"slider", "message", "title", "color", "select"} {
		if v, ok := opts[k]; ok {
			request = strings.ReplaceAll(request, "#"+k+"#", fmt.Sprint(v))
		}
	}
	return request
}

// cmdRef matches a #[object][equipment][command]# reference.
var cmdRef = regexp.MustCompile(`#\[([^\]]*)\]\[([^\]]*)\]\[([^\]]*)\]#`)

// expandRefs replaces command references by the current value of the
// command. Callers hold j.mu.
func (j *Jeedom) expandRefs(request string) string {
	return cmdRef.ReplaceAllStringFunc(request, func(ref string) string {
		m := cmdRef.FindStringSubmatch(ref)
		for _, e := range j.eqpts {
			if e.Name != m[2] || j.objectName(e.ObjectID) != m[1] {
				continue
			}
			if c := e.Command(m[3]); c != nil {
				return c.CurrentValue.String()
			}
		}
		return ref
	})
}

// objectName returns the name of an object, NoObject when id is nil.
func (j *Jeedom) objectName(id *string) string {
	if id == nil {
		return NoObject
	}
	for _, o := range j.objects {
		if o.ID == *id {
			return o.Name
		}
	}
	return NoObject
}

func param(params map[string]any, key string) string {
	switch v := params[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

// eqDoc renders an equipment the way eqLogic::byType and eqLogic::byId do,
// with the fields the plugin returns but the harness does not track.
func (j *Jeedom) eqDoc(e *eqpt) model.Doc {
	d, err := model.ToDoc(e.Equipment)
	if err != nil {
		j.logger.Error("encode equipment", "id", e.ID, "error", err)
		return model.Doc{"id": e.ID}
	}
	d["eqType_id"] = "3"
	d["timeout"] = ""
	d["comment"] = ""
	d["tags"] = ""
	d["category"] = map[string]any{"heating": "0", "security": "0", "energy": "0", "light": "0", "automatism": "0", "multimedia": "0", "default": "0"}
	d["display"] = map[string]any{}
	status := map[string]any{"lastCommunication": ""}
	if !e.lastComm.IsZero() {
		status["lastCommunication"] = e.lastComm.Local().Format(LastCommunicationLayout)
	}
	d["status"] = status
	if conf := d.Sub("configuration"); conf != nil {
		conf["createtime"] = "2019-01-01 00:00:00"
	}
	return d
}

func cmdDoc(c *model.Command) model.Doc {
	d, err := model.ToDoc(c)
	if err != nil {
		return model.Doc{"id": c.ID}
	}
	d["generic_type"] = nil
	d["template"] = map[string]any{"dashboard": "default", "mobile": "default"}
	d["display"] = map[string]any{"invertBinary": "0"}
	d["alert"] = map[string]any{}
	if conf := d.Sub("configuration"); conf != nil {
		conf["prevParseJson"] = 0
	}
	return d
}
