package specimen

// Coding scheme designators.
const (
	schemeDCM = "DCM"
	schemeSCT = "SCT"
)

// Concept names used inside preparation step content items.
var (
	codeSpecimenIdentifier = Code{"121041", schemeDCM, "Specimen Identifier"}
	codeIdentifierIssuer   = Code{"111706", schemeDCM, "Issuer of Specimen Identifier"}
	codeProcessingType     = Code{"111701", schemeDCM, "Processing type"}
	codeDateOfProcessing   = Code{"111702", schemeDCM, "DateTime of processing"}
	codeStepDescription    = Code{"111703", schemeDCM, "Processing step description"}

	codeSamplingMethod = Code{"111704", schemeDCM, "Sampling Method"}
	codeParentID       = Code{"111705", schemeDCM, "Parent Specimen Identifier"}
	codeParentType     = Code{"111707", schemeDCM, "Parent specimen type"}

	codeFixative        = Code{"430864009", schemeSCT, "Tissue Fixative"}
	codeEmbeddingMedium = Code{"430863003", schemeSCT, "Embedding medium"}
	codeUsingSubstance  = Code{"424361007", schemeSCT, "Using substance"}
)

// Processing type values identifying each step variant.
var (
	codeCollection = Code{"17636008", schemeSCT, "Specimen collection"}
	codeProcessing = Code{"9265001", schemeSCT, "Specimen processing"}
	codeSampling   = Code{"433465004", schemeSCT, "Sampling of tissue specimen"}
	codeStaining   = Code{"127790008", schemeSCT, "Staining"}
)

// Specimen localization concepts.
var (
	codeLocationText = Code{"111718", schemeDCM, "Location of Specimen"}
	codeLocationX    = Code{"111719", schemeDCM, "Location of Specimen X offset"}
	codeLocationY    = Code{"111720", schemeDCM, "Location of Specimen Y offset"}
	codeLocationZ    = Code{"111721", schemeDCM, "Location of Specimen Z offset"}
)

// SlideType is the default specimen type of a slide sample.
var SlideType = Code{"430856003", schemeSCT, "Tissue section"}
