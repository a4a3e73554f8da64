package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/mkraev/Conveyor/internal/domain"
)

// Output отвечает за представление сущностей Conveyor в терминале:
// таблицы pipelines, runs, job-инстансов и отчётов для человека,
// JSON для скриптов (--json).
type Output struct {
	jsonMode bool
	w        io.Writer // stdout для данных
	errW     io.Writer // stderr для сообщений
}

// NewOutput создаёт Output. Если jsonMode=true, данные выводятся в JSON.
func NewOutput(jsonMode bool) *Output {
	return &Output{
		jsonMode: jsonMode,
		w:        os.Stdout,
		errW:     os.Stderr,
	}
}

// Success выводит сообщение об успехе в stderr,
// чтобы не мешать JSON-выводу в stdout.
func (o *Output) Success(msg string) {
	fmt.Fprintln(o.errW, msg)
}

// Error выводит сообщение об ошибке в stderr.
func (o *Output) Error(msg string) {
	fmt.Fprintln(o.errW, "Error: "+msg)
}

// JSON выводит данные в формате JSON с отступами.
func (o *Output) JSON(v any) {
	enc := json.NewEncoder(o.w)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}

// Pipelines выводит список pipelines.
func (o *Output) Pipelines(list []PipelineResponse) {
	rows := make([][]string, len(list))
	for i, p := range list {
		rows[i] = []string{p.ID, p.Name, strconv.FormatBool(p.IsActive), p.CreatedAt}
	}
	o.print([]string{"ID", "NAME", "ACTIVE", "CREATED"}, rows, list)
}

// Pipeline выводит один pipeline.
func (o *Output) Pipeline(p *PipelineResponse) {
	o.print(
		[]string{"ID", "NAME", "ACTIVE", "CREATED"},
		[][]string{{p.ID, p.Name, strconv.FormatBool(p.IsActive), p.CreatedAt}},
		p,
	)
}

// PipelineVersions выводит версии pipeline.
func (o *Output) PipelineVersions(list []PipelineVersionResponse) {
	rows := make([][]string, len(list))
	for i, v := range list {
		rows[i] = []string{v.PipelineID, strconv.Itoa(v.Version), v.CreatedAt}
	}
	o.print([]string{"PIPELINE_ID", "VERSION", "CREATED"}, rows, list)
}

// Runs выводит список runs.
func (o *Output) Runs(list []RunResponse) {
	rows := make([][]string, len(list))
	for i, r := range list {
		rows[i] = []string{r.ID, r.PipelineID, strconv.Itoa(r.Version), r.Status, r.Trigger, r.CreatedAt}
	}
	o.print([]string{"ID", "PIPELINE_ID", "VERSION", "STATUS", "TRIGGER", "CREATED"}, rows, list)
}

// Run выводит один run.
func (o *Output) Run(r *RunResponse) {
	o.print(
		[]string{"ID", "PIPELINE_ID", "VERSION", "STATUS", "TRIGGER", "ERROR", "CREATED"},
		[][]string{{r.ID, r.PipelineID, strconv.Itoa(r.Version), r.Status, r.Trigger, truncate(r.Error, 60), r.CreatedAt}},
		r,
	)
}

// Instances выводит job-инстансы run: ключ, координату matrix,
// статус и номер попытки.
func (o *Output) Instances(list []JobInstanceResponse) {
	rows := make([][]string, len(list))
	for i, j := range list {
		rows[i] = []string{
			j.Key,
			coordinateString(j.Coordinate),
			j.Status,
			strconv.Itoa(j.Attempt),
			truncate(j.Error, 60),
		}
	}
	o.print([]string{"KEY", "MATRIX", "STATUS", "ATTEMPT", "ERROR"}, rows, list)
}

// Report выводит итоговый отчёт run: по строке на инстанс
// с длительностью и outputs.
func (o *Output) Report(r *RunReportResponse) {
	rows := make([][]string, len(r.Jobs))
	for i, j := range r.Jobs {
		rows[i] = []string{
			j.Key,
			j.Status,
			formatDuration(j.DurationMs),
			outputsString(j.Outputs),
			truncate(j.Error, 60),
		}
	}
	o.print([]string{"KEY", "STATUS", "DURATION", "OUTPUTS", "ERROR"}, rows, r)
}

// LocalReport выводит отчёт локального запуска (run local).
func (o *Output) LocalReport(r *domain.RunReport) {
	rows := make([][]string, len(r.Jobs))
	for i, j := range r.Jobs {
		rows[i] = []string{
			j.Key,
			string(j.Status),
			formatDuration(j.DurationMs),
			outputsString(j.Outputs),
			truncate(j.Error, 60),
		}
	}
	o.print([]string{"KEY", "STATUS", "DURATION", "OUTPUTS", "ERROR"}, rows, r)
}

// Schedules выводит список schedules.
func (o *Output) Schedules(list []ScheduleResponse) {
	rows := make([][]string, len(list))
	for i, s := range list {
		rows[i] = []string{
			s.ID, s.PipelineID, s.Name,
			scheduleSpec(s.CronExpr, s.IntervalSec),
			strconv.FormatBool(s.Enabled),
			s.NextDueAt,
		}
	}
	o.print([]string{"ID", "PIPELINE_ID", "NAME", "WHEN", "ENABLED", "NEXT_DUE"}, rows, list)
}

// Schedule выводит один schedule.
func (o *Output) Schedule(s *ScheduleResponse) {
	o.print(
		[]string{"ID", "PIPELINE_ID", "NAME", "WHEN", "TIMEZONE", "ENABLED", "NEXT_DUE", "LAST_RUN"},
		[][]string{{
			s.ID, s.PipelineID, s.Name,
			scheduleSpec(s.CronExpr, s.IntervalSec),
			s.Timezone,
			strconv.FormatBool(s.Enabled),
			s.NextDueAt,
			s.LastRunID,
		}},
		s,
	)
}

// print выводит таблицу или JSON в зависимости от режима.
func (o *Output) print(headers []string, rows [][]string, v any) {
	if o.jsonMode {
		o.JSON(v)
		return
	}

	tw := tabwriter.NewWriter(o.w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(headers, "\t"))

	dashes := make([]string, len(headers))
	for i, h := range headers {
		dashes[i] = strings.Repeat("-", len(h))
	}
	fmt.Fprintln(tw, strings.Join(dashes, "\t"))

	for _, row := range rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	tw.Flush()
}

// coordinateString форматирует координату matrix: "go=1.24 os=linux",
// оси в алфавитном порядке. Пустая координата — "-".
func coordinateString(coord map[string]string) string {
	if len(coord) == 0 {
		return "-"
	}

	axes := make([]string, 0, len(coord))
	for name := range coord {
		axes = append(axes, name)
	}
	sort.Strings(axes)

	parts := make([]string, len(axes))
	for i, name := range axes {
		parts[i] = name + "=" + coord[name]
	}
	return strings.Join(parts, " ")
}

// outputsString форматирует outputs job: "tag=v1.2 digest=sha…".
func outputsString(outputs map[string]string) string {
	if len(outputs) == 0 {
		return "-"
	}

	keys := make([]string, 0, len(outputs))
	for k := range outputs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + truncate(outputs[k], 20)
	}
	return strings.Join(parts, " ")
}

// scheduleSpec описывает, когда срабатывает schedule:
// cron-выражение или "@every Ns".
func scheduleSpec(cronExpr string, intervalSec int) string {
	if cronExpr != "" {
		return cronExpr
	}
	if intervalSec > 0 {
		return "@every " + strconv.Itoa(intervalSec) + "s"
	}
	return "-"
}

// formatDuration переводит миллисекунды в человекочитаемый вид.
func formatDuration(ms int64) string {
	if ms <= 0 {
		return "-"
	}
	d := time.Duration(ms) * time.Millisecond
	if d < time.Second {
		return d.String()
	}
	return d.Round(100 * time.Millisecond).String()
}

// truncate обрезает длинные значения в табличных ячейках.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-1] + "…"
}
