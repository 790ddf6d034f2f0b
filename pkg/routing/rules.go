package routing

import "citizen-reporting-system/pkg/report"

// Department is a unit reports can be routed to.
type Department struct {
	Code     string
	Name     string
	Keywords []string
}

// PriorityRule maps keywords to a priority. Buckets are scanned in order.
type PriorityRule struct {
	Priority int
	Keywords []string
}

type CategoryRule struct {
	Category   report.Category
	Department string
}

const DefaultDepartment = "general"

// Departments in tie-break order: on equal keyword scores the earlier entry
// wins.
var Departments = []Department{
	{
		Code:     "pekerjaan_umum",
		Name:     "Dinas Pekerjaan Umum",
		Keywords: []string{"jalan", "rusak", "lubang", "aspal", "jembatan", "trotoar", "drainase", "gorong", "selokan"},
	},
	{
		Code:     "kebersihan",
		Name:     "Dinas Kebersihan",
		Keywords: []string{"sampah", "kotor", "bau", "tumpukan", "tempat sampah", "limbah rumah"},
	},
	{
		Code:     "penerangan",
		Name:     "Dinas Penerangan Jalan",
		Keywords: []string{"lampu", "penerangan", "gelap", "pju", "tiang listrik"},
	},
	{
		Code:     "lingkungan_hidup",
		Name:     "Dinas Lingkungan Hidup",
		Keywords: []string{"polusi", "pencemaran", "asap", "limbah", "pohon", "udara", "sungai"},
	},
	{
		Code:     "perhubungan",
		Name:     "Dinas Perhubungan",
		Keywords: []string{"macet", "lalu lintas", "angkot", "bus kota", "parkir", "rambu", "halte", "terminal"},
	},
	{
		Code:     "keamanan",
		Name:     "Satpol PP / Keamanan",
		Keywords: []string{"pencurian", "maling", "begal", "keributan", "tawuran", "kriminal", "preman"},
	},
	{
		Code: DefaultDepartment,
		Name: "Pemda Pusat (Kategori Umum)",
	},
}

var PriorityBuckets = []PriorityRule{
	{Priority: 1, Keywords: []string{"darurat", "bahaya", "kebakaran", "banjir", "kecelakaan", "roboh", "korban", "longsor"}},
	{Priority: 2, Keywords: []string{"parah", "mendesak", "segera", "berbahaya", "rusak berat"}},
	{Priority: 3, Keywords: []string{"mengganggu", "keluhan", "bermasalah"}},
	{Priority: 4, Keywords: []string{"ringan", "kecil", "sedikit", "minor"}},
	{Priority: 5, Keywords: []string{"saran", "usulan", "masukan"}},
}

var CategoryDepartments = []CategoryRule{
	{Category: report.CategoryJalanRusak, Department: "pekerjaan_umum"},
	{Category: report.CategoryDrainase, Department: "pekerjaan_umum"},
	{Category: report.CategoryFasilitasUmum, Department: "pekerjaan_umum"},
	{Category: report.CategorySampah, Department: "kebersihan"},
	{Category: report.CategoryLampuJalan, Department: "penerangan"},
	{Category: report.CategoryPolusi, Department: "lingkungan_hidup"},
	{Category: report.CategoryTransportasi, Department: "perhubungan"},
	{Category: report.CategoryKeamanan, Department: "keamanan"},
}

// KnownDepartment reports whether code is in the catalog.
func KnownDepartment(code string) bool {
	for _, d := range Departments {
		if d.Code == code {
			return true
		}
	}
	return false
}

func DepartmentName(code string) string {
	for _, d := range Departments {
		if d.Code == code {
			return d.Name
		}
	}
	return code
}
