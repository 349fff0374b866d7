package osfacade

// macOS dlfcn.h RTLD_NODELETE; not exposed by purego.
const rtldNodelete = 0x80
