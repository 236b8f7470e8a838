package wat

const (
	opUnreachable byte = 0x00
	opNop         byte = 0x01
	opBlock       byte = 0x02
	opLoop        byte = 0x03
	opIf          byte = 0x04
	opElse        byte = 0x05
	opEnd         byte = 0x0B
	opBr          byte = 0x0C
	opBrIf        byte = 0x0D
	opReturn      byte = 0x0F
	opCall        byte = 0x10
	opLocalGet    byte = 0x20
	opLocalSet    byte = 0x21
	opLocalTee    byte = 0x22
	opGlobalGet   byte = 0x23
	opGlobalSet   byte = 0x24
	opMemorySize  byte = 0x3F
	opMemoryGrow  byte = 0x40
	opI32Const    byte = 0x41
	opI64Const    byte = 0x42
)

const (
	typeI32   byte = 0x7F
	typeI64   byte = 0x7E
	typeFunc  byte = 0x60
	blockVoid byte = 0x40
)

// Instructions without immediates.
var plainOps = map[string]byte{
	"unreachable":      opUnreachable,
	"nop":              opNop,
	"return":           opReturn,
	"drop":             0x1A,
	"select":           0x1B,
	"i32.eqz":          0x45,
	"i32.eq":           0x46,
	"i32.ne":           0x47,
	"i32.lt_s":         0x48,
	"i32.lt_u":         0x49,
	"i32.gt_s":         0x4A,
	"i32.gt_u":         0x4B,
	"i32.le_s":         0x4C,
	"i32.le_u":         0x4D,
	"i32.ge_s":         0x4E,
	"i32.ge_u":         0x4F,
	"i64.eqz":          0x50,
	"i64.eq":           0x51,
	"i64.ne":           0x52,
	"i32.add":          0x6A,
	"i32.sub":          0x6B,
	"i32.mul":          0x6C,
	"i32.div_u":        0x6E,
	"i32.rem_u":        0x70,
	"i32.and":          0x71,
	"i32.or":           0x72,
	"i32.xor":          0x73,
	"i32.shl":          0x74,
	"i32.shr_u":        0x76,
	"i64.add":          0x7C,
	"i64.sub":          0x7D,
	"i64.mul":          0x7E,
	"i32.wrap_i64":     0xA7,
	"i64.extend_i32_u": 0xAD,
}

var localOps = map[string]byte{
	"local.get": opLocalGet,
	"local.set": opLocalSet,
	"local.tee": opLocalTee,
}

type memOp struct {
	code  byte
	align uint32 // log2 of the natural alignment
}

var memOps = map[string]memOp{
	"i32.load":    {0x28, 2},
	"i64.load":    {0x29, 3},
	"i32.load8_u": {0x2D, 0},
	"i32.store":   {0x36, 2},
	"i64.store":   {0x37, 3},
	"i32.store8":  {0x3A, 0},
}

func valueType(name string) (byte, bool) {
	switch name {
	case "i32":
		return typeI32, true
	case "i64":
		return typeI64, true
	}
	return 0, false
}
