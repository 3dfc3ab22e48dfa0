package mock

import (
	"bytes"
	"context"
	"html/template"

	"github.com/domotruc/jmqtt-test/pkg/dom"
	"github.com/domotruc/jmqtt-test/pkg/model"
)

var pageTemplate = template.Must(template.New("page").Parse(`<html>
<body>
<div class="eqLogicThumbnailContainer">
{{- range .Cards}}
<div class="eqLogicDisplayCard cursor{{if .Auto}} auto{{end}}" data-eqlogic_id="{{.ID}}" data-brkid="{{.BrkID}}"{{if .State}} data-state="{{.State}}"{{end}}><center><strong>{{.Name}}</strong></center></div>
{{- end}}
</div>
<table id="table_cmd">
<tbody>
{{- range .Cmds}}
<tr class="cmd" data-cmd_id="{{.ID}}"><td><input class="cmdAttr" data-l1key="name" value="{{.Name}}"/></td></tr>
{{- end}}
</tbody>
</table>
</body>
</html>
`))

type pageCard struct {
	ID, BrkID, Name string
	Auto            bool
	State           model.DaemonState
}

type pageData struct {
	Cards []pageCard
	Cmds  []*model.Command
}

// RenderPage renders the plugin page: one card per equipment and the
// command table of the equipment opened with ShowEquipment.
func (j *Jeedom) RenderPage() []byte {
	j.mu.Lock()
	var data pageData
	for _, e := range j.eqpts {
		c := pageCard{ID: e.ID, BrkID: e.Configuration.BrkID, Name: e.Name, Auto: e.AutoAddCmd()}
		if d := j.daemons[e.ID]; d != nil && e.IsBroker() {
			c.State = d.currentState()
		}
		data.Cards = append(data.Cards, c)
		if e.ID == j.open {
			data.Cmds = e.Cmds
		}
	}

	var buf bytes.Buffer
	err := pageTemplate.Execute(&buf, data)
	j.mu.Unlock()
	if err != nil {
		j.logger.Error("render page", "error", err)
	}
	return buf.Bytes()
}

// Page returns the plugin page as seen by a browser.
func (j *Jeedom) Page() dom.Page {
	return dom.NewSourcePage(func(context.Context) ([]byte, error) {
		return j.RenderPage(), nil
	})
}
