package wire_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/okian/livetables/internal/adapters/feed/wire"
	"github.com/okian/livetables/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func TestDecodeTables(t *testing.T) {
	Convey("Given upstream payloads", t, func() {
		Convey("When the payload is an array", func() {
			tables, err := wire.DecodeTables([]byte(`[
				{"id":"t1","name":"Auto","is_open":true,"numbers":[{"number":7,"timestamp":"2026-01-02T15:04:05Z"}]},
				{"id":"t2"}
			]`))

			Convey("Then every table should be decoded", func() {
				So(err, ShouldBeNil)
				So(len(tables), ShouldEqual, 2)
				So(*tables[0].Name, ShouldEqual, "Auto")
				So(*tables[0].IsOpen, ShouldBeTrue)
				So(tables[0].Numbers[0].Number, ShouldEqual, 7)
				So(tables[0].Numbers[0].Timestamp.Time().Equal(time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)), ShouldBeTrue)
				So(tables[1].Name, ShouldBeNil)
				So(tables[1].IsOpen, ShouldBeNil)
			})
		})

		Convey("When the payload is a single object", func() {
			tables, err := wire.DecodeTables([]byte(`{"id":"t1","numbers":[{"number":0,"timestamp":1767366245000}]}`))

			Convey("Then it should yield one table with a unix-ms timestamp", func() {
				So(err, ShouldBeNil)
				So(len(tables), ShouldEqual, 1)
				So(tables[0].Numbers[0].Timestamp.Time().Equal(time.UnixMilli(1767366245000)), ShouldBeTrue)
			})
		})

		Convey("When the payload wraps tables", func() {
			tables, err := wire.DecodeTables([]byte(`{"tables":[{"id":"a"},{"id":"b"},{"id":"c"}]}`))

			Convey("Then the wrapped list should be returned", func() {
				So(err, ShouldBeNil)
				So(len(tables), ShouldEqual, 3)
				So(tables[2].ID, ShouldEqual, "c")
			})
		})

		Convey("When the payload is empty or null", func() {
			a, errA := wire.DecodeTables(nil)
			b, errB := wire.DecodeTables([]byte(" null "))

			Convey("Then nothing should be returned without error", func() {
				So(errA, ShouldBeNil)
				So(errB, ShouldBeNil)
				So(a, ShouldBeEmpty)
				So(b, ShouldBeEmpty)
			})
		})

		Convey("When the payload is not valid json", func() {
			_, err1 := wire.DecodeTables([]byte(`[{"id":`))
			_, err2 := wire.DecodeTables([]byte(`"tables"`))

			Convey("Then a malformed payload error should be returned", func() {
				So(errors.Is(err1, wire.ErrMalformedPayload), ShouldBeTrue)
				So(errors.Is(err2, wire.ErrMalformedPayload), ShouldBeTrue)
			})
		})

		Convey("When one outcome is corrupt", func() {
			tables, err := wire.DecodeTables([]byte(`[{"id":"x","numbers":[
				{"number":1,"timestamp":"yesterday"},
				{"number":"two","timestamp":"2026-01-02T15:04:05Z"},
				{"timestamp":"2026-01-02T15:04:05Z"},
				7,
				{"number":4,"timestamp":"2026-01-02T15:04:05Z"}
			]}]`))

			Convey("Then the table survives and only the bad outcomes are invalid", func() {
				So(err, ShouldBeNil)
				So(len(tables), ShouldEqual, 1)
				So(tables[0].ID, ShouldEqual, "x")
				p := tables[0].Patch()
				So(len(p.Observations), ShouldEqual, 5)
				for _, o := range p.Observations[:4] {
					So(o.Valid(), ShouldBeFalse)
				}
				So(p.Observations[4].Value, ShouldEqual, 4)
				So(p.Observations[4].Valid(), ShouldBeTrue)
			})
		})

		Convey("When one table has fields of the wrong shape", func() {
			tables, err := wire.DecodeTables([]byte(`{"tables":[{"id":"a","is_open":"yes"},{"id":"b"}]}`))

			Convey("Then it decodes as an empty table and the others are kept", func() {
				So(err, ShouldBeNil)
				So(len(tables), ShouldEqual, 2)
				So(tables[0].ID, ShouldBeEmpty)
				So(tables[1].ID, ShouldEqual, "b")
			})
		})
	})
}

func TestTimestamp(t *testing.T) {
	Convey("Given timestamps in different encodings", t, func() {
		want := time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)

		Convey("Then a garbage string should fail when decoded on its own", func() {
			var ts wire.Timestamp
			So(errors.Is(json.Unmarshal([]byte(`"garbage"`), &ts), wire.ErrBadTimestamp), ShouldBeTrue)
		})

		Convey("Then string milliseconds should decode", func() {
			var ts wire.Timestamp
			So(json.Unmarshal([]byte(`"1767366245000"`), &ts), ShouldBeNil)
			So(ts.Time().Equal(want), ShouldBeTrue)
		})

		Convey("Then encoding should round to RFC 3339", func() {
			b, err := json.Marshal(wire.Timestamp(want))
			So(err, ShouldBeNil)
			So(string(b), ShouldEqual, `"2026-01-02T15:04:05Z"`)

			zero, _ := json.Marshal(wire.Timestamp{})
			So(string(zero), ShouldEqual, "null")
		})
	})
}

func TestBatchAndFromEntity(t *testing.T) {
	Convey("Given a decoded batch", t, func() {
		now := time.Now()
		b, err := wire.Batch([]byte(`[{"id":"t1","is_open":false,"numbers":[{"number":3,"timestamp":"2026-01-02T15:04:05Z"},{"number":40,"timestamp":"2026-01-02T15:03:05Z"}]}]`),
			model.SourcePoll, now, "evt-9")

		Convey("Then patches should carry every observation for the deduplicator to judge", func() {
			So(err, ShouldBeNil)
			So(b.Source, ShouldEqual, model.SourcePoll)
			So(b.Cursor, ShouldEqual, "evt-9")
			So(b.Len(), ShouldEqual, 1)
			p := b.Entities[0]
			So(p.Name, ShouldBeNil)
			So(*p.IsOpen, ShouldBeFalse)
			So(len(p.Observations), ShouldEqual, 2)
			So(p.Observations[1].Valid(), ShouldBeFalse)
		})

		Convey("Then a corrupt timestamp in one table leaves the other tables intact", func() {
			b, err := wire.Batch([]byte(`[
				{"id":"A","name":"Auto","numbers":[{"number":9,"timestamp":"2026-01-02T15:04:05Z"}]},
				{"id":"B","numbers":[{"number":3,"timestamp":"garbage"}]}
			]`), model.SourceStream, now, "")

			So(err, ShouldBeNil)
			So(b.Len(), ShouldEqual, 2)
			So(b.Entities[0].ID, ShouldEqual, "A")
			So(b.Entities[0].Observations[0].Valid(), ShouldBeTrue)
			So(b.Entities[1].ID, ShouldEqual, "B")
			So(b.Entities[1].Observations[0].Valid(), ShouldBeFalse)
		})

		Convey("Then an entity should encode back to the same shape", func() {
			e := model.Entity{ID: "t1", Name: "Auto", IsOpen: true, History: []model.Observation{{Value: 3, ObservedAt: time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)}}}
			raw, err := json.Marshal(wire.FromEntity(e))
			So(err, ShouldBeNil)

			tables, err := wire.DecodeTables(raw)
			So(err, ShouldBeNil)
			p := tables[0].Patch()
			So(p.ID, ShouldEqual, "t1")
			So(*p.Name, ShouldEqual, "Auto")
			So(p.Observations[0].Key(), ShouldResemble, e.History[0].Key())
		})
	})
}
