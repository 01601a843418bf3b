package piv

// Instruction bytes for PIV (NIST SP 800-73-4) and YubicoPIV commands. Every
// tag, instruction, and status word here is normative per §6.
const (
	insSelect              = 0xA4
	insGetData             = 0xCB
	insVerify              = 0x20
	insChangeReference     = 0x24
	insResetRetryCounter   = 0x2C
	insGeneralAuthenticate = 0x87
	insPutData             = 0xDB
	insGenerateAsymmetric  = 0x47
	insGetResponse         = 0xC0

	// YubicoPIV instruction extensions.
	insYkGetVersion     = 0xFD
	insYkGetSerial      = 0xF8
	insYkImportAsym     = 0xFE
	insYkAttest         = 0xF9
	insYkReset          = 0xFB
	insYkSetPINRetries  = 0xFA
	insYkSetMgmKey      = 0xFF
)

// Status words. 0x61xx, 0x6Cxx, and 0x63Cx are ranges handled structurally
// in apdu.go rather than listed individually.
const (
	swSuccess             uint16 = 0x9000
	swSecurityNotSatisfied uint16 = 0x6982
	swAuthBlocked          uint16 = 0x6983
	swNotFound             uint16 = 0x6A82
	swFuncNotSupported     uint16 = 0x6A81
	swWrongP1P2            uint16 = 0x6A86
	swOutOfMemory          uint16 = 0x6A84
	swWrongLength          uint16 = 0x6700
)

const (
	swMoreDataMask  uint16 = 0xFF00
	swMoreDataValue uint16 = 0x6100
	swWrongLeMask   uint16 = 0xFF00
	swWrongLeValue  uint16 = 0x6C00
	swPINWrongMask  uint16 = 0xFFF0
	swPINWrongValue uint16 = 0x63C0
)

// pivAID is the PIV applet AID used by SELECT.
var pivAID = []byte{0xA0, 0x00, 0x00, 0x03, 0x08, 0x00, 0x00, 0x10, 0x00, 0x01, 0x00}

// PIV data object tags (GET DATA / PUT DATA).
const (
	tagCHUID   uint32 = 0x5FC102
	tagCardCap uint32 = 0x5FC107
	tagDiscov  uint32 = 0x7E
	tagKeyHist uint32 = 0x5FC10C
)

// certTagForSlot maps a PIV key/cert slot id to its GET DATA/PUT DATA object
// tag, per the table fixed by the PIV specification.
var certTagForSlot = map[byte]uint32{
	SlotAuthentication:  0x5FC105,
	SlotSignature:       0x5FC10A,
	SlotKeyManagement:   0x5FC10B,
	SlotCardAuth:        0x5FC101,
	0x82:                0x5FC10D,
	0x83:                0x5FC10E,
	0x84:                0x5FC10F,
	0x85:                0x5FC110,
	0x86:                0x5FC111,
	0x87:                0x5FC112,
	0x88:                0x5FC113,
	0x89:                0x5FC114,
	0x8A:                0x5FC115,
	0x8B:                0x5FC116,
	0x8C:                0x5FC117,
	0x8D:                0x5FC118,
	0x8E:                0x5FC119,
	0x8F:                0x5FC11A,
	0x90:                0x5FC11B,
	0x91:                0x5FC11C,
	0x92:                0x5FC11D,
	0x93:                0x5FC11E,
	0x94:                0x5FC11F,
	0x95:                0x5FC120,
}

// Slot ids, drawn from the enumeration {9A, 9B, 9C, 9D, 9E, 82..95, F9}.
const (
	SlotAuthentication byte = 0x9A
	SlotCardMgmt       byte = 0x9B // the management/admin key slot
	SlotSignature      byte = 0x9C
	SlotKeyManagement  byte = 0x9D
	SlotCardAuth       byte = 0x9E
	SlotAttestation    byte = 0xF9
)

// allCertSlots is the fixed slot enumeration ReadAllCerts iterates, ordered
// the way the PIV spec's key reference table lists them.
func allCertSlots() []byte {
	slots := []byte{SlotAuthentication, SlotSignature, SlotKeyManagement, SlotCardAuth}
	for s := byte(0x82); s <= 0x95; s++ {
		slots = append(slots, s)
	}
	return slots
}

// Algorithm ids per NIST SP 800-78-4 / YubicoPIV.
const (
	AlgRSA1024 byte = 0x06
	AlgRSA2048 byte = 0x07
	AlgECCP256 byte = 0x11
	AlgECCP384 byte = 0x14
	Alg3DES    byte = 0x03
	AlgAES128  byte = 0x08
	AlgAES192  byte = 0x0A
	AlgAES256  byte = 0x0C
	// PivApplet hash-on-card pseudo-algorithms: send unhashed data, let the
	// card perform SHA-1/SHA-256 before signing.
	AlgPinSHA1   byte = 0xF0
	AlgPinSHA256 byte = 0xF1
)

// PIN/PUK reference identifiers for VERIFY / CHANGE REFERENCE DATA / RESET
// RETRY COUNTER.
const (
	RefPIN       byte = 0x80
	RefPUK       byte = 0x81
	RefGlobalPIN byte = 0x00
	RefOCC       byte = 0x96
	RefPairing   byte = 0x98
)

// AuthMethod enumerates the authentication methods a card may report via
// DISCOVERY's PIN usage policy field.
type AuthMethod byte

const (
	AuthPIN AuthMethod = 1 << iota
	AuthGlobalPIN
	AuthOCC
	AuthPairing
	AuthPUK
)
