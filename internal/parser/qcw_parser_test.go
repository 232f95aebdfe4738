package parser_test

import (
	"errors"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/user/qcw_analyzer_go/internal/parser"
)

const sampleQCW = `<?xml version="1.0" encoding="utf-8"?>
<QCW>
  <Content>
    <TrendData date="2024-05-02 08:15:00">
      <Worklist id="3">
        <Name>TB1 TrueBeam Morning</Name>
        <AdminData>
          <AdminValues>
            <Energy>6</Energy>
            <Modality>Photons</Modality>
            <Fieldsize>100x100</Fieldsize>
            <FFF>No</FFF>
          </AdminValues>
          <AnalyzeParams>
            <CAX><Norm>100.0</Norm></CAX>
            <Flatness><Norm>102.5</Norm></Flatness>
            <Wedge><Norm>1.0</Norm></Wedge>
          </AnalyzeParams>
        </AdminData>
      </Worklist>
      <MeasData>
        <AnalyzeValues>
          <CAX><Value>100.5</Value></CAX>
          <Flatness><Value>102.9</Value></Flatness>
          <Wedge><Value>1.0</Value></Wedge>
        </AnalyzeValues>
      </MeasData>
    </TrendData>
    <TrendData date="2024-05-01 17:45:12">
      <Worklist id="7">
        <AdminData>
          <AdminValues>
            <Energy>9</Energy>
            <Modality>Electrons</Modality>
            <Fieldsize>150x150</Fieldsize>
          </AdminValues>
          <AnalyzeParams>
            <CAX><Norm>100.0</Norm></CAX>
          </AnalyzeParams>
        </AdminData>
      </Worklist>
      <MeasData>
        <AnalyzeValues>
          <CAX><Value>99.1</Value></CAX>
        </AnalyzeValues>
      </MeasData>
    </TrendData>
  </Content>
</QCW>`

func TestParse(t *testing.T) {
	Convey("Given a well-formed QCW document", t, func() {
		Convey("When parsed", func() {
			doc, err := parser.Parse([]byte(sampleQCW))
			So(err, ShouldBeNil)

			Convey("Then it extracts one record per complete TrendData", func() {
				So(doc.Records, ShouldHaveLength, 2)
			})

			Convey("Then the date attribute is reduced to the calendar date", func() {
				So(doc.Records[0].Date, ShouldEqual, "2024-05-02")
				So(doc.Records[1].Date, ShouldEqual, "2024-05-01")
			})

			Convey("Then admin values are carried through verbatim", func() {
				rec := doc.Records[0]
				So(rec.WorklistID, ShouldEqual, "3")
				So(rec.WorklistName, ShouldEqual, "TB1 TrueBeam Morning")
				So(rec.Energy, ShouldEqual, "6")
				So(rec.Modality, ShouldEqual, "Photons")
				So(rec.Fieldsize, ShouldEqual, "100x100")
				So(rec.FFF, ShouldEqual, "No")
			})

			Convey("Then a missing FFF element defaults to No", func() {
				So(doc.Records[1].FFF, ShouldEqual, "No")
			})

			Convey("Then tolerance and value nodes keep raw text", func() {
				rec := doc.Records[0]
				So(rec.Tolerances, ShouldHaveLength, 3)
				So(rec.Tolerances[0].Name, ShouldEqual, "CAX")
				So(*rec.Tolerances[0].Norm, ShouldEqual, "100.0")
				So(rec.Tolerances[0].Min, ShouldBeNil)
				So(rec.Values, ShouldHaveLength, 3)
				So(*rec.Values[0].Value, ShouldEqual, "100.5")
			})

			Convey("Then the worklist listing is first-seen ordered with name fallback", func() {
				So(doc.Worklists, ShouldHaveLength, 2)
				So(doc.Worklists[0].ID, ShouldEqual, "3")
				So(doc.Worklists[0].Name, ShouldEqual, "TB1 TrueBeam Morning")
				So(doc.Worklists[1].ID, ShouldEqual, "7")
				So(doc.Worklists[1].Name, ShouldEqual, "Worklist_7")
			})
		})

		Convey("When parsed with a UTF-8 BOM prefix", func() {
			bom := append([]byte{0xef, 0xbb, 0xbf}, []byte(sampleQCW)...)
			doc, err := parser.Parse(bom)
			So(err, ShouldBeNil)
			So(doc.Records, ShouldHaveLength, 2)
		})
	})

	Convey("Given a document that is not well-formed XML", t, func() {
		_, err := parser.Parse([]byte("<QCW><TrendData"))
		So(err, ShouldNotBeNil)
		So(errors.Is(err, parser.ErrMalformedInput), ShouldBeTrue)
	})

	Convey("Given trend records with missing pieces", t, func() {
		const partial = `<QCW>
			<TrendData date="2024-05-01 08:00:00"><NoWorklistHere/></TrendData>
			<TrendData date="2024-05-01 09:00:00">
				<Worklist id="5"><Name>Unit 5</Name></Worklist>
			</TrendData>
			<TrendData date="2024-05-01 10:00:00">
				<Worklist id="6"><Name>Unit 6</Name></Worklist>
				<MeasData><AnalyzeValues/></MeasData>
			</TrendData>
		</QCW>`

		doc, err := parser.Parse([]byte(partial))
		So(err, ShouldBeNil)

		Convey("Then incomplete records are skipped without failing the parse", func() {
			So(doc.Records, ShouldBeEmpty)
			So(len(doc.Warnings), ShouldBeGreaterThanOrEqualTo, 3)
		})

		Convey("Then worklists are still listed for records lacking measurements", func() {
			So(doc.Worklists, ShouldHaveLength, 2)
			So(doc.Worklists[0].Name, ShouldEqual, "Unit 5")
		})
	})
}
