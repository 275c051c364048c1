package catalog

import (
	"context"
	"fmt"

	"github.com/ClickHouse/ch-go"
	"github.com/ClickHouse/ch-go/proto"
)

// FrameBatch holds column data for native frame-catalog inserts.
type FrameBatch struct {
	Event    *proto.ColStr
	Channel  *proto.ColUInt16
	Time     *proto.ColDateTime
	Path     *proto.ColStr
	Exposure *proto.ColFloat64
	Kind     *proto.ColStr
}

func NewFrameBatch() *FrameBatch {
	return &FrameBatch{
		Event:    new(proto.ColStr),
		Channel:  new(proto.ColUInt16),
		Time:     new(proto.ColDateTime),
		Path:     new(proto.ColStr),
		Exposure: new(proto.ColFloat64),
		Kind:     new(proto.ColStr),
	}
}

func (b *FrameBatch) Reset() {
	b.Event.Reset()
	b.Channel.Reset()
	b.Time.Reset()
	b.Path.Reset()
	b.Exposure.Reset()
	b.Kind.Reset()
}

func (b *FrameBatch) Len() int {
	return b.Channel.Rows()
}

func (b *FrameBatch) Input() proto.Input {
	return proto.Input{
		{Name: "event", Data: b.Event},
		{Name: "channel", Data: b.Channel},
		{Name: "time", Data: b.Time},
		{Name: "path", Data: b.Path},
		{Name: "exposure", Data: b.Exposure},
		{Name: "kind", Data: b.Kind},
	}
}

func (b *FrameBatch) Add(f Frame) {
	b.Event.Append(f.Event)
	b.Channel.Append(uint16(f.Channel))
	b.Time.Append(f.Time)
	b.Path.Append(f.Path)
	b.Exposure.Append(f.Exposure)
	b.Kind.Append(f.Kind)
}

// CreateFramesTable creates the catalog table when absent.
func CreateFramesTable(ctx context.Context, conn *ch.Client, tableFQN string) error {
	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		event String,
		channel UInt16,
		time DateTime,
		path String,
		exposure Float64,
		kind String
	) ENGINE = MergeTree() ORDER BY (event, channel, time)`, tableFQN)
	return conn.Do(ctx, ch.Query{Body: query})
}

// FlushFrames sends the batch through one native insert.
func FlushFrames(ctx context.Context, conn *ch.Client, tableFQN string, batch *FrameBatch) error {
	if batch.Len() == 0 {
		return nil
	}
	query := fmt.Sprintf("INSERT INTO %s (event, channel, time, path, exposure, kind) VALUES", tableFQN)
	return conn.Do(ctx, ch.Query{
		Body:  query,
		Input: batch.Input(),
	})
}
